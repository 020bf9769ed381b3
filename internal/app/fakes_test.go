package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/config"
	"mercato/api/internal/locks"
	"mercato/api/internal/notify"
	"mercato/api/internal/store"
)

// memStore is an in-memory stand-in for the Postgres store. It backs the
// whole stack in tests: the service's data access, the lock manager, the
// conflict detector, and the notification sink.
type memStore struct {
	mu            sync.Mutex
	settings      map[string]store.LockSettings
	locks         map[string]store.Lock
	entries       map[string][]store.ActionLogEntry
	conflicts     map[string]store.Conflict
	notifications []store.Notification
	companies     map[string]store.Company

	failCompanyWrite bool
}

func newMemStore() *memStore {
	return &memStore{
		settings:  map[string]store.LockSettings{},
		locks:     map[string]store.Lock{},
		entries:   map[string][]store.ActionLogEntry{},
		conflicts: map[string]store.Conflict{},
		companies: map[string]store.Company{},
	}
}

func resourceKey(tenantID, resourceKind, resourceID string) string {
	return tenantID + "|" + resourceKind + "|" + resourceID
}

func (m *memStore) GetLockSettings(ctx context.Context, tenantID string) (store.LockSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings, ok := m.settings[tenantID]
	if !ok {
		return store.LockSettings{}, sql.ErrNoRows
	}
	return settings, nil
}

func (m *memStore) SaveLockSettings(ctx context.Context, settings store.LockSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[settings.TenantID] = settings
	return nil
}

func (m *memStore) TryAcquireLock(ctx context.Context, lock store.Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey(lock.TenantID, lock.ResourceKind, lock.ResourceID)
	existing, ok := m.locks[key]
	if ok && existing.Status == store.LockStatusActive &&
		existing.ExpiresAt.After(lock.AcquiredAt) &&
		existing.OwnerID != lock.OwnerID {
		return false, nil
	}
	m.locks[key] = lock
	return true, nil
}

func (m *memStore) GetLock(ctx context.Context, tenantID, resourceKind, resourceID string) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[resourceKey(tenantID, resourceKind, resourceID)]
	if !ok {
		return store.Lock{}, sql.ErrNoRows
	}
	return lock, nil
}

func (m *memStore) GetLockByToken(ctx context.Context, tenantID, token string) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lock := range m.locks {
		if lock.TenantID == tenantID && lock.Token == token {
			return lock, nil
		}
	}
	return store.Lock{}, sql.ErrNoRows
}

func (m *memStore) ExtendLock(ctx context.Context, tenantID, token string, now, expiresAt time.Time) (bool, error) {
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

func (m *memStore) ReleaseLockByToken(ctx context.Context, tenantID, token, reason string, now time.Time) (bool, error) {
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

func (m *memStore) ForceReleaseLock(ctx context.Context, tenantID, resourceKind, resourceID, reason string, now time.Time) (store.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey(tenantID, resourceKind, resourceID)
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

func (m *memStore) MarkLockExpired(ctx context.Context, tenantID, resourceKind, resourceID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := resourceKey(tenantID, resourceKind, resourceID)
	lock, ok := m.locks[key]
	if ok && lock.Status == store.LockStatusActive && !lock.ExpiresAt.After(now) {
		lock.Status = store.LockStatusExpired
		m.locks[key] = lock
	}
	return nil
}

func (m *memStore) ActionLogHead(ctx context.Context, tenantID, resourceKind, resourceID string) (store.ActionLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.entries[resourceKey(tenantID, resourceKind, resourceID)]
	if len(entries) == 0 {
		return store.ActionLogEntry{}, false, nil
	}
	return entries[len(entries)-1], true, nil
}

func (m *memStore) GetActionLogEntry(ctx context.Context, tenantID, resourceKind, resourceID string, logID int64) (store.ActionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[resourceKey(tenantID, resourceKind, resourceID)] {
		if entry.LogID == logID {
			return entry, nil
		}
	}
	return store.ActionLogEntry{}, sql.ErrNoRows
}

func (m *memStore) appendEntry(entry store.ActionLogEntry, baseLogID int64) int64 {
	key := resourceKey(entry.TenantID, entry.ResourceKind, entry.ResourceID)
	if baseLogID >= 0 && int64(len(m.entries[key])) != baseLogID {
		return 0
	}
	entry.LogID = int64(len(m.entries[key]) + 1)
	m.entries[key] = append(m.entries[key], entry)
	return entry.LogID
}

func (m *memStore) AppendActionSaveCompany(ctx context.Context, entry store.ActionLogEntry, baseLogID int64, company store.Company) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// the row write and the append share a transaction: a failure lands
	// neither
	if m.failCompanyWrite {
		return 0, errors.New("company write failed")
	}
	logID := m.appendEntry(entry, baseLogID)
	if logID == 0 {
		return 0, nil
	}
	m.companies[company.TenantID+"|"+company.ID] = company
	return logID, nil
}

func (m *memStore) AppendActionDeleteCompany(ctx context.Context, entry store.ActionLogEntry, baseLogID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCompanyWrite {
		return 0, errors.New("company write failed")
	}
	logID := m.appendEntry(entry, baseLogID)
	if logID == 0 {
		return 0, nil
	}
	delete(m.companies, entry.TenantID+"|"+entry.ResourceID)
	return logID, nil
}

func (m *memStore) InsertConflict(ctx context.Context, conflict store.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[conflict.TenantID+"|"+conflict.ID] = conflict
	return nil
}

func (m *memStore) GetConflict(ctx context.Context, tenantID, conflictID string) (store.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conflict, ok := m.conflicts[tenantID+"|"+conflictID]
	if !ok {
		return store.Conflict{}, sql.ErrNoRows
	}
	return conflict, nil
}

func (m *memStore) MarkConflictActioned(ctx context.Context, tenantID, conflictID, resolution, resolvedBy string, now time.Time) (bool, error) {
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

func (m *memStore) InsertNotification(ctx context.Context, notification store.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	notification.CreatedAt = time.Now().UTC()
	m.notifications = append(m.notifications, notification)
	return nil
}

func (m *memStore) GetNotification(ctx context.Context, tenantID, notificationID string) (store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, notification := range m.notifications {
		if notification.TenantID == tenantID && notification.ID == notificationID {
			return notification, nil
		}
	}
	return store.Notification{}, sql.ErrNoRows
}

func (m *memStore) ListNotifications(ctx context.Context, tenantID string, limit int) ([]store.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []store.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(matched) < limit; i-- {
		if m.notifications[i].TenantID == tenantID {
			matched = append(matched, m.notifications[i])
		}
	}
	return matched, nil
}

func (m *memStore) ListCompanies(ctx context.Context, tenantID string) ([]store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []store.Company
	for _, company := range m.companies {
		if company.TenantID == tenantID {
			matched = append(matched, company)
		}
	}
	return matched, nil
}

func (m *memStore) GetCompany(ctx context.Context, tenantID, companyID string) (store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	company, ok := m.companies[tenantID+"|"+companyID]
	if !ok {
		return store.Company{}, sql.ErrNoRows
	}
	return company, nil
}

func (m *memStore) InsertCompany(ctx context.Context, company store.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[company.TenantID+"|"+company.ID] = company
	return nil
}

func (m *memStore) UpdateCompany(ctx context.Context, company store.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := company.TenantID + "|" + company.ID
	if _, ok := m.companies[key]; !ok {
		return sql.ErrNoRows
	}
	m.companies[key] = company
	return nil
}

func (m *memStore) DeleteCompany(ctx context.Context, tenantID, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.companies, tenantID+"|"+companyID)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }

type memIntents struct {
	mu      sync.Mutex
	intents map[string]locks.Intent
}

func newMemIntents() *memIntents {
	return &memIntents{intents: map[string]locks.Intent{}}
}

func (m *memIntents) Arm(ctx context.Context, tenantID, conflictID string, intent locks.Intent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[tenantID+"|"+conflictID] = intent
	return nil
}

func (m *memIntents) Consume(ctx context.Context, tenantID, conflictID string) (locks.Intent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "|" + conflictID
	intent, ok := m.intents[key]
	if !ok {
		return locks.Intent{}, false, nil
	}
	delete(m.intents, key)
	return intent, true, nil
}

func newTestService(t interface{ Helper() }) (*Service, *memStore, *clock.Mock) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.Config{
		JWTSecret: "test-secret",
		AccessTTL: time.Hour,
		IntentTTL: 30 * time.Minute,
	}
	ms := newMemStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	emitter := notify.New(ms, notify.NopPublisher{}, "test", log)
	intents := newMemIntents()

	service := &Service{
		cfg:         cfg,
		store:       ms,
		manager:     locks.NewManager(ms, emitter, clk, log),
		detector:    locks.NewDetector(ms, ms, intents, emitter, clk, log),
		coordinator: locks.NewCoordinator(ms, ms, intents, cfg.IntentTTL, clk, log),
		emitter:     emitter,
		log:         log,
	}
	return service, ms, clk
}
