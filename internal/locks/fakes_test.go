package locks

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"mercato/api/internal/store"
)

type memLockStore struct {
	mu    sync.Mutex
	locks map[string]store.Lock
}

func newMemLockStore() *memLockStore {
	return &memLockStore{locks: map[string]store.Lock{}}
}

func lockKey(tenantID, resourceKind, resourceID string) string {
	return tenantID + "|" + resourceKind + "|" + resourceID
}

func (m *memLockStore) TryAcquireLock(ctx context.Context, lock store.Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(lock.TenantID, lock.ResourceKind, lock.ResourceID)
	existing, ok := m.locks[key]
	if ok && existing.Status == store.LockStatusActive &&
		existing.ExpiresAt.After(lock.AcquiredAt) &&
		existing.OwnerID != lock.OwnerID {
		return false, nil
	}
	m.locks[key] = lock
	return true, nil
}

func (m *memLockStore) GetLock(ctx context.Context, tenantID, resourceKind, resourceID string) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[lockKey(tenantID, resourceKind, resourceID)]
	if !ok {
		return store.Lock{}, sql.ErrNoRows
	}
	return lock, nil
}

func (m *memLockStore) GetLockByToken(ctx context.Context, tenantID, token string) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lock := range m.locks {
		if lock.TenantID == tenantID && lock.Token == token {
			return lock, nil
		}
	}
	return store.Lock{}, sql.ErrNoRows
}

func (m *memLockStore) ExtendLock(ctx context.Context, tenantID, token string, now, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, lock := range m.locks {
		if lock.TenantID == tenantID && lock.Token == token &&
			lock.Status == store.LockStatusActive && lock.ExpiresAt.After(now) {
			lock.ExpiresAt = expiresAt
			m.locks[key] = lock
			return true, nil
		}
	}
	return false, nil
}

func (m *memLockStore) ReleaseLockByToken(ctx context.Context, tenantID, token, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, lock := range m.locks {
		if lock.TenantID == tenantID && lock.Token == token && lock.Status == store.LockStatusActive {
			lock.Status = store.LockStatusReleased
			lock.ReleasedAt = &now
			lock.ReleaseReason = reason
			m.locks[key] = lock
			return true, nil
		}
	}
	return false, nil
}

func (m *memLockStore) ForceReleaseLock(ctx context.Context, tenantID, resourceKind, resourceID, reason string, now time.Time) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(tenantID, resourceKind, resourceID)
	lock, ok := m.locks[key]
	if !ok || lock.Status != store.LockStatusActive || !lock.ExpiresAt.After(now) {
		return store.Lock{}, sql.ErrNoRows
	}
	lock.Status = store.LockStatusForceReleased
	lock.ReleasedAt = &now
	lock.ReleaseReason = reason
	m.locks[key] = lock
	return lock, nil
}

func (m *memLockStore) MarkLockExpired(ctx context.Context, tenantID, resourceKind, resourceID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(tenantID, resourceKind, resourceID)
	lock, ok := m.locks[key]
	if ok && lock.Status == store.LockStatusActive && !lock.ExpiresAt.After(now) {
		lock.Status = store.LockStatusExpired
		m.locks[key] = lock
	}
	return nil
}

type memActionLog struct {
	mu      sync.Mutex
	entries map[string][]store.ActionLogEntry
}

func newMemActionLog() *memActionLog {
	return &memActionLog{entries: map[string][]store.ActionLogEntry{}}
}

func (m *memActionLog) append(entry store.ActionLogEntry) store.ActionLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(entry.TenantID, entry.ResourceKind, entry.ResourceID)
	entry.LogID = int64(len(m.entries[key]) + 1)
	m.entries[key] = append(m.entries[key], entry)
	return entry
}

func (m *memActionLog) ActionLogHead(ctx context.Context, tenantID, resourceKind, resourceID string) (store.ActionLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[lockKey(tenantID, resourceKind, resourceID)]
	if len(entries) == 0 {
		return store.ActionLogEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (m *memActionLog) GetActionLogEntry(ctx context.Context, tenantID, resourceKind, resourceID string, logID int64) (store.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[lockKey(tenantID, resourceKind, resourceID)] {
		if entry.LogID == logID {
			return entry, nil
		}
	}
	return store.ActionLogEntry{}, sql.ErrNoRows
}

type memConflictStore struct {
	mu        sync.Mutex
	conflicts map[string]store.Conflict
}

func newMemConflictStore() *memConflictStore {
	return &memConflictStore{conflicts: map[string]store.Conflict{}}
}

func (m *memConflictStore) InsertConflict(ctx context.Context, conflict store.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[conflict.TenantID+"|"+conflict.ID] = conflict
	return nil
}

func (m *memConflictStore) GetConflict(ctx context.Context, tenantID, conflictID string) (store.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conflict, ok := m.conflicts[tenantID+"|"+conflictID]
	if !ok {
		return store.Conflict{}, sql.ErrNoRows
	}
	return conflict, nil
}

func (m *memConflictStore) MarkConflictActioned(ctx context.Context, tenantID, conflictID, resolution, resolvedBy string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + conflictID
	conflict, ok := m.conflicts[key]
	if !ok || conflict.Status != store.ConflictStatusOpen {
		return false, nil
	}
	conflict.Status = store.ConflictStatusActioned
	conflict.Resolution = resolution
	conflict.ResolvedBy = resolvedBy
	conflict.ActionedAt = &now
	m.conflicts[key] = conflict
	return true, nil
}

type memIntentStore struct {
	mu      sync.Mutex
	intents map[string]Intent
}

func newMemIntentStore() *memIntentStore {
	return &memIntentStore{intents: map[string]Intent{}}
}

func (m *memIntentStore) Arm(ctx context.Context, tenantID, conflictID string, intent Intent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[tenantID+"|"+conflictID] = intent
	return nil
}

func (m *memIntentStore) Consume(ctx context.Context, tenantID, conflictID string) (Intent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + conflictID
	intent, ok := m.intents[key]
	if !ok {
		return Intent{}, false, nil
	}
	delete(m.intents, key)
	return intent, true, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (e *recordingEmitter) Emit(ctx context.Context, event Event) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return "ntf_test"
}

func (e *recordingEmitter) byType(eventType string) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var matched []Event
	for _, event := range e.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}
