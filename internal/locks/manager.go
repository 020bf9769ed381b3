package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/store"
)

// LockStore is the durable lock state. Implementations must make
// TryAcquireLock a single conditional write so that concurrent acquires for
// the same resource yield exactly one winner.
type LockStore interface {
	TryAcquireLock(ctx context.Context, lock store.Lock) (bool, error)
	GetLock(ctx context.Context, tenantID, resourceKind, resourceID string) (store.Lock, error)
	GetLockByToken(ctx context.Context, tenantID, token string) (store.Lock, error)
	ExtendLock(ctx context.Context, tenantID, token string, now, expiresAt time.Time) (bool, error)
	ReleaseLockByToken(ctx context.Context, tenantID, token, reason string, now time.Time) (bool, error)
	ForceReleaseLock(ctx context.Context, tenantID, resourceKind, resourceID, reason string, now time.Time) (store.Lock, error)
	MarkLockExpired(ctx context.Context, tenantID, resourceKind, resourceID string, now time.Time) error
}

// Manager enforces the pessimistic-strategy invariants over a LockStore.
// Settings are passed into every call; the Manager itself is stateless.
type Manager struct {
	locks   LockStore
	emitter Emitter
	clock   clock.Clock
	log     *logrus.Logger
}

func NewManager(locks LockStore, emitter Emitter, clk clock.Clock, log *logrus.Logger) *Manager {
	return &Manager{locks: locks, emitter: emitter, clock: clk, log: log}
}

// Acquire takes the exclusive lock, overwriting the caller's own previous
// lock if any. A live lock held by another actor fails with
// AlreadyLockedError naming the holder.
func (m *Manager) Acquire(ctx context.Context, settings store.LockSettings, resourceKind, resourceID, actorID, actorName string) (store.Lock, error) {
	if !Governs(settings, resourceKind) || settings.Strategy != store.StrategyPessimistic {
		return store.Lock{}, ErrResourceNotGoverned
	}

	now := m.clock.Now().UTC()
	lock := store.Lock{
		TenantID:     settings.TenantID,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Token:        uuid.NewString(),
		OwnerID:      actorID,
		OwnerName:    actorName,
		Status:       store.LockStatusActive,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(time.Duration(settings.TimeoutSeconds) * time.Second),
	}

	acquired, err := m.locks.TryAcquireLock(ctx, lock)
	if err != nil {
		return store.Lock{}, err
	}
	if !acquired {
		holder, herr := m.locks.GetLock(ctx, settings.TenantID, resourceKind, resourceID)
		switch {
		case errors.Is(herr, sql.ErrNoRows):
			// the holder released between the conditional write and this
			// read; one retry settles it either way
			acquired, err = m.locks.TryAcquireLock(ctx, lock)
			if err != nil {
				return store.Lock{}, err
			}
			if !acquired {
				return store.Lock{}, &AlreadyLockedError{}
			}
		case herr != nil:
			return store.Lock{}, fmt.Errorf("read lock holder: %w", herr)
		default:
			return store.Lock{}, &AlreadyLockedError{Lock: holder}
		}
	}

	m.log.WithFields(logrus.Fields{
		"tenant":   settings.TenantID,
		"resource": resourceKind + "/" + resourceID,
		"owner":    actorID,
		"expires":  lock.ExpiresAt,
	}).Info("lock acquired")
	return lock, nil
}

// Heartbeat extends the lease by the configured timeout. Unknown tokens and
// locks that are no longer active fail with ErrLockNotFound.
func (m *Manager) Heartbeat(ctx context.Context, settings store.LockSettings, token string) (time.Time, error) {
	now := m.clock.Now().UTC()
	expiresAt := now.Add(time.Duration(settings.TimeoutSeconds) * time.Second)
	extended, err := m.locks.ExtendLock(ctx, settings.TenantID, token, now, expiresAt)
	if err != nil {
		return time.Time{}, err
	}
	if !extended {
		return time.Time{}, ErrLockNotFound
	}
	return expiresAt, nil
}

// Release gracefully releases the lock identified by token. Releasing an
// unknown, expired, or already-released token is a no-op success so client
// retries and tab-close races never error.
func (m *Manager) Release(ctx context.Context, settings store.LockSettings, token, reason string) error {
	now := m.clock.Now().UTC()
	released, err := m.locks.ReleaseLockByToken(ctx, settings.TenantID, token, reason, now)
	if err != nil {
		return err
	}
	if released {
		m.log.WithFields(logrus.Fields{"tenant": settings.TenantID, "reason": reason}).Info("lock released")
	}
	return nil
}

// ForceRelease invalidates the active lock regardless of owner. Requires
// the tenant's allowForceUnlock grant; emits lock.force_released naming the
// original owner.
func (m *Manager) ForceRelease(ctx context.Context, settings store.LockSettings, resourceKind, resourceID, actorID, actorName, reason string) (store.Lock, error) {
	if !settings.AllowForceUnlock {
		return store.Lock{}, ErrNotPermitted
	}

	now := m.clock.Now().UTC()
	released, err := m.locks.ForceReleaseLock(ctx, settings.TenantID, resourceKind, resourceID, reason, now)
	if errors.Is(err, sql.ErrNoRows) {
		// nothing live to steal; sweep a lapsed row if one is there
		_ = m.locks.MarkLockExpired(ctx, settings.TenantID, resourceKind, resourceID, now)
		return store.Lock{}, ErrLockNotFound
	}
	if err != nil {
		return store.Lock{}, err
	}

	m.log.WithFields(logrus.Fields{
		"tenant":    settings.TenantID,
		"resource":  resourceKind + "/" + resourceID,
		"owner":     released.OwnerID,
		"forced_by": actorID,
	}).Warn("lock force-released")

	m.emitter.Emit(ctx, Event{
		Type:         EventLockForceReleased,
		TenantID:     settings.TenantID,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Payload: map[string]any{
			"ownerUserId":  released.OwnerID,
			"ownerName":    released.OwnerName,
			"forcedBy":     actorID,
			"forcedByName": actorName,
			"reason":       reason,
			"acquiredAt":   released.AcquiredAt,
			"releasedAt":   released.ReleasedAt,
		},
	})
	return released, nil
}

// Validate gates a pessimistically-governed mutation: the caller must
// present the token of a currently-active lock on the resource.
func (m *Manager) Validate(ctx context.Context, settings store.LockSettings, resourceKind, resourceID, token string) error {
	now := m.clock.Now().UTC()
	lock, err := m.locks.GetLock(ctx, settings.TenantID, resourceKind, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &AlreadyLockedError{}
	}
	if err != nil {
		return err
	}

	if lock.Status == store.LockStatusActive && !lock.ExpiresAt.After(now) {
		_ = m.locks.MarkLockExpired(ctx, settings.TenantID, resourceKind, resourceID, now)
		return &AlreadyLockedError{}
	}
	if lock.Status != store.LockStatusActive {
		return &AlreadyLockedError{}
	}
	if token == "" || token != lock.Token {
		return &AlreadyLockedError{Lock: lock}
	}
	return nil
}

// Status reports the resource's active lock after lazy expiry, if any.
func (m *Manager) Status(ctx context.Context, settings store.LockSettings, resourceKind, resourceID string) (store.Lock, bool, error) {
	now := m.clock.Now().UTC()
	lock, err := m.locks.GetLock(ctx, settings.TenantID, resourceKind, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Lock{}, false, nil
	}
	if err != nil {
		return store.Lock{}, false, err
	}
	if lock.Status != store.LockStatusActive {
		return store.Lock{}, false, nil
	}
	if !lock.ExpiresAt.After(now) {
		_ = m.locks.MarkLockExpired(ctx, settings.TenantID, resourceKind, resourceID, now)
		return store.Lock{}, false, nil
	}
	return lock, true, nil
}
