package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetLockSettings(ctx context.Context, tenantID string) (LockSettings, error) {
	var item LockSettings
	var resourcesRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, enabled, strategy, timeout_seconds, heartbeat_seconds,
		       enabled_resources, allow_force_unlock, allow_incoming_override,
		       notify_on_conflict, updated_at
		FROM record_lock_settings
		WHERE tenant_id=$1
	`, tenantID).Scan(
		&item.TenantID,
		&item.Enabled,
		&item.Strategy,
		&item.TimeoutSeconds,
		&item.HeartbeatSeconds,
		&resourcesRaw,
		&item.AllowForceUnlock,
		&item.AllowIncomingOverride,
		&item.NotifyOnConflict,
		&item.UpdatedAt,
	)
	if err != nil {
		return LockSettings{}, err
	}
	if err := json.Unmarshal(resourcesRaw, &item.EnabledResources); err != nil {
		return LockSettings{}, fmt.Errorf("unmarshal enabled resources: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SaveLockSettings(ctx context.Context, settings LockSettings) error {
	resources := settings.EnabledResources
	if resources == nil {
		resources = []string{}
	}
	encoded, err := json.Marshal(resources)
	if err != nil {
		return fmt.Errorf("marshal enabled resources: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO record_lock_settings
			(tenant_id, enabled, strategy, timeout_seconds, heartbeat_seconds,
			 enabled_resources, allow_force_unlock, allow_incoming_override, notify_on_conflict)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
		ON CONFLICT (tenant_id) DO UPDATE SET
			enabled=EXCLUDED.enabled,
			strategy=EXCLUDED.strategy,
			timeout_seconds=EXCLUDED.timeout_seconds,
			heartbeat_seconds=EXCLUDED.heartbeat_seconds,
			enabled_resources=EXCLUDED.enabled_resources,
			allow_force_unlock=EXCLUDED.allow_force_unlock,
			allow_incoming_override=EXCLUDED.allow_incoming_override,
			notify_on_conflict=EXCLUDED.notify_on_conflict,
			updated_at=NOW()
	`, settings.TenantID, settings.Enabled, settings.Strategy, settings.TimeoutSeconds,
		settings.HeartbeatSeconds, string(encoded), settings.AllowForceUnlock,
		settings.AllowIncomingOverride, settings.NotifyOnConflict)
	if err != nil {
		return fmt.Errorf("save lock settings: %w", err)
	}
	return nil
}

// TryAcquireLock attempts the single conditional write that decides lock
// ownership. The upsert only lands when no row exists, the existing row is
// not active, its lease has lapsed, or the caller already owns it. Returns
// false when a live lock held by another actor blocked the write.
func (s *PostgresStore) TryAcquireLock(ctx context.Context, lock Lock) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO record_locks
			(tenant_id, resource_kind, resource_id, token, owner_id, owner_name,
			 status, acquired_at, expires_at, released_at, release_reason)
		VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, NULL, '')
		ON CONFLICT (tenant_id, resource_kind, resource_id) DO UPDATE SET
			token=EXCLUDED.token,
			owner_id=EXCLUDED.owner_id,
			owner_name=EXCLUDED.owner_name,
			status='active',
			acquired_at=EXCLUDED.acquired_at,
			expires_at=EXCLUDED.expires_at,
			released_at=NULL,
			release_reason=''
		WHERE record_locks.status <> 'active'
		   OR record_locks.expires_at <= EXCLUDED.acquired_at
		   OR record_locks.owner_id = EXCLUDED.owner_id
	`, lock.TenantID, lock.ResourceKind, lock.ResourceID, lock.Token, lock.OwnerID,
		lock.OwnerName, lock.AcquiredAt, lock.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetLock(ctx context.Context, tenantID, resourceKind, resourceID string) (Lock, error) {
	return s.scanLock(s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource_kind, resource_id, token, owner_id, owner_name,
		       status, acquired_at, expires_at, released_at, release_reason
		FROM record_locks
		WHERE tenant_id=$1 AND resource_kind=$2 AND resource_id=$3
	`, tenantID, resourceKind, resourceID))
}

func (s *PostgresStore) GetLockByToken(ctx context.Context, tenantID, token string) (Lock, error) {
	return s.scanLock(s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource_kind, resource_id, token, owner_id, owner_name,
		       status, acquired_at, expires_at, released_at, release_reason
		FROM record_locks
		WHERE tenant_id=$1 AND token=$2
	`, tenantID, token))
}

func (s *PostgresStore) scanLock(row *sql.Row) (Lock, error) {
	var item Lock
	err := row.Scan(
		&item.TenantID,
		&item.ResourceKind,
		&item.ResourceID,
		&item.Token,
		&item.OwnerID,
		&item.OwnerName,
		&item.Status,
		&item.AcquiredAt,
		&item.ExpiresAt,
		&item.ReleasedAt,
		&item.ReleaseReason,
	)
	if err != nil {
		return Lock{}, err
	}
	return item, nil
}

// ExtendLock pushes the lease forward for a heartbeat. The condition keeps
// expired or released locks from coming back to life.
func (s *PostgresStore) ExtendLock(ctx context.Context, tenantID, token string, now, expiresAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE record_locks
		SET expires_at=$3
		WHERE tenant_id=$1 AND token=$2 AND status='active' AND expires_at > $4
	`, tenantID, token, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("extend lock rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ReleaseLockByToken(ctx context.Context, tenantID, token, reason string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE record_locks
		SET status='released', released_at=$4, release_reason=$3
		WHERE tenant_id=$1 AND token=$2 AND status='active'
	`, tenantID, token, reason, now)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lock rows: %w", err)
	}
	return affected > 0, nil
}

// ForceReleaseLock invalidates the active lock regardless of owner and
// returns the released snapshot, owner fields intact.
func (s *PostgresStore) ForceReleaseLock(ctx context.Context, tenantID, resourceKind, resourceID, reason string, now time.Time) (Lock, error) {
	var item Lock
	err := s.db.QueryRowContext(ctx, `
		UPDATE record_locks
		SET status='force_released', released_at=$5, release_reason=$4
		WHERE tenant_id=$1 AND resource_kind=$2 AND resource_id=$3
		  AND status='active' AND expires_at > $5
		RETURNING tenant_id, resource_kind, resource_id, token, owner_id, owner_name,
		          status, acquired_at, expires_at, released_at, release_reason
	`, tenantID, resourceKind, resourceID, reason, now).Scan(
		&item.TenantID,
		&item.ResourceKind,
		&item.ResourceID,
		&item.Token,
		&item.OwnerID,
		&item.OwnerName,
		&item.Status,
		&item.AcquiredAt,
		&item.ExpiresAt,
		&item.ReleasedAt,
		&item.ReleaseReason,
	)
	if err != nil {
		return Lock{}, err
	}
	return item, nil
}

// MarkLockExpired is the lazy-expiry sweep for a single resource, run when
// a lapsed lock is observed. Losing the race to a concurrent acquire is fine.
func (s *PostgresStore) MarkLockExpired(ctx context.Context, tenantID, resourceKind, resourceID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE record_locks
		SET status='expired'
		WHERE tenant_id=$1 AND resource_kind=$2 AND resource_id=$3
		  AND status='active' AND expires_at <= $4
	`, tenantID, resourceKind, resourceID, now)
	if err != nil {
		return fmt.Errorf("mark lock expired: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActionLogHead(ctx context.Context, tenantID, resourceKind, resourceID string) (ActionLogEntry, bool, error) {
	entry, err := s.scanActionEntry(s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource_kind, resource_id, log_id, actor_id, actor_name,
		       action, snapshot, deleted, created_at
		FROM record_action_log
		WHERE tenant_id=$1 AND resource_kind=$2 AND resource_id=$3
		ORDER BY log_id DESC
		LIMIT 1
	`, tenantID, resourceKind, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return ActionLogEntry{}, false, nil
	}
	if err != nil {
		return ActionLogEntry{}, false, fmt.Errorf("action log head: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) GetActionLogEntry(ctx context.Context, tenantID, resourceKind, resourceID string, logID int64) (ActionLogEntry, error) {
	entry, err := s.scanActionEntry(s.db.QueryRowContext(ctx, `
		SELECT tenant_id, resource_kind, resource_id, log_id, actor_id, actor_name,
		       action, snapshot, deleted, created_at
		FROM record_action_log
		WHERE tenant_id=$1 AND resource_kind=$2 AND resource_id=$3 AND log_id=$4
	`, tenantID, resourceKind, resourceID, logID))
	if err != nil {
		return ActionLogEntry{}, err
	}
	return entry, nil
}

func (s *PostgresStore) scanActionEntry(row *sql.Row) (ActionLogEntry, error) {
	var item ActionLogEntry
	var snapshot []byte
	err := row.Scan(
		&item.TenantID,
		&item.ResourceKind,
		&item.ResourceID,
		&item.LogID,
		&item.ActorID,
		&item.ActorName,
		&item.Action,
		&snapshot,
		&item.Deleted,
		&item.CreatedAt,
	)
	if err != nil {
		return ActionLogEntry{}, err
	}
	item.Snapshot = json.RawMessage(snapshot)
	return item, nil
}

// AppendActionSaveCompany upserts the company row in the same transaction as
// the action-log append, so the head can never advance past a row state that
// was not written. baseLogID >= 0 makes the append a compare-and-bump: the
// head only advances if it still equals baseLogID, so two racers cannot both
// land on the same base, and (0, nil) is returned without writing when the
// head has moved. A negative baseLogID appends unconditionally; pessimistic
// writes use that form because the lock already serializes writers.
func (s *PostgresStore) AppendActionSaveCompany(ctx context.Context, entry ActionLogEntry, baseLogID int64, company Company) (int64, error) {
	return s.appendAction(ctx, entry, baseLogID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO companies (id, tenant_id, name, domain, notes, updated_by_name)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, id)
			DO UPDATE SET name=EXCLUDED.name, domain=EXCLUDED.domain, notes=EXCLUDED.notes,
			              updated_by_name=EXCLUDED.updated_by_name, updated_at=NOW()
		`, company.ID, company.TenantID, company.Name, company.Domain, company.Notes, company.UpdatedBy); err != nil {
			return fmt.Errorf("save company: %w", err)
		}
		return nil
	})
}

// AppendActionDeleteCompany removes the company row in the same transaction
// as the tombstone append.
func (s *PostgresStore) AppendActionDeleteCompany(ctx context.Context, entry ActionLogEntry, baseLogID int64) (int64, error) {
	return s.appendAction(ctx, entry, baseLogID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM companies WHERE tenant_id=$1 AND id=$2
		`, entry.TenantID, entry.ResourceID); err != nil {
			return fmt.Errorf("delete company: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) appendAction(ctx context.Context, entry ActionLogEntry, requireHead int64, apply func(*sql.Tx) error) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var logID int64
	if requireHead < 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO record_action_heads (tenant_id, resource_kind, resource_id, head)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (tenant_id, resource_kind, resource_id)
			DO UPDATE SET head = record_action_heads.head + 1
			RETURNING head
		`, entry.TenantID, entry.ResourceKind, entry.ResourceID).Scan(&logID)
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO record_action_heads (tenant_id, resource_kind, resource_id, head)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (tenant_id, resource_kind, resource_id)
			DO UPDATE SET head = record_action_heads.head + 1
			WHERE record_action_heads.head = $4
			RETURNING head
		`, entry.TenantID, entry.ResourceKind, entry.ResourceID, requireHead).Scan(&logID)
		if errors.Is(err, sql.ErrNoRows) {
			// head moved underneath the caller
			return 0, nil
		}
	}
	if err != nil {
		return 0, fmt.Errorf("bump action head: %w", err)
	}

	snapshot := entry.Snapshot
	if len(snapshot) == 0 {
		snapshot = json.RawMessage(`{}`)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO record_action_log
			(tenant_id, resource_kind, resource_id, log_id, actor_id, actor_name, action, snapshot, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, entry.TenantID, entry.ResourceKind, entry.ResourceID, logID, entry.ActorID,
		entry.ActorName, entry.Action, string(snapshot), entry.Deleted); err != nil {
		return 0, fmt.Errorf("insert action entry: %w", err)
	}

	if apply != nil {
		if err := apply(tx); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}
	return logID, nil
}

func (s *PostgresStore) InsertConflict(ctx context.Context, conflict Conflict) error {
	options := conflict.ResolutionOptions
	if options == nil {
		options = []string{}
	}
	fields := conflict.ChangedFields
	if fields == nil {
		fields = []string{}
	}
	encodedOptions, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal resolution options: %w", err)
	}
	encodedFields, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO record_lock_conflicts
			(id, tenant_id, resource_kind, resource_id, base_action_log_id,
			 incoming_action_log_id, status, allow_incoming_override,
			 resolution_options, changed_fields)
		VALUES ($1, $2, $3, $4, $5, $6, 'open', $7, $8::jsonb, $9::jsonb)
	`, conflict.ID, conflict.TenantID, conflict.ResourceKind, conflict.ResourceID,
		conflict.BaseActionLogID, conflict.IncomingActionLogID,
		conflict.AllowIncomingOverride, string(encodedOptions), string(encodedFields))
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConflict(ctx context.Context, tenantID, conflictID string) (Conflict, error) {
	var item Conflict
	var optionsRaw, fieldsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, resource_kind, resource_id, base_action_log_id,
		       incoming_action_log_id, status, allow_incoming_override,
		       resolution_options, changed_fields, resolution, resolved_by_name,
		       created_at, actioned_at
		FROM record_lock_conflicts
		WHERE tenant_id=$1 AND id=$2
	`, tenantID, conflictID).Scan(
		&item.ID,
		&item.TenantID,
		&item.ResourceKind,
		&item.ResourceID,
		&item.BaseActionLogID,
		&item.IncomingActionLogID,
		&item.Status,
		&item.AllowIncomingOverride,
		&optionsRaw,
		&fieldsRaw,
		&item.Resolution,
		&item.ResolvedBy,
		&item.CreatedAt,
		&item.ActionedAt,
	)
	if err != nil {
		return Conflict{}, err
	}
	_ = json.Unmarshal(optionsRaw, &item.ResolutionOptions)
	_ = json.Unmarshal(fieldsRaw, &item.ChangedFields)
	return item, nil
}

// MarkConflictActioned transitions open -> actioned exactly once. A second
// call reports false so callers can reject re-application.
func (s *PostgresStore) MarkConflictActioned(ctx context.Context, tenantID, conflictID, resolution, resolvedBy string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE record_lock_conflicts
		SET status='actioned', resolution=$3, resolved_by_name=$4, actioned_at=$5
		WHERE tenant_id=$1 AND id=$2 AND status='open'
	`, tenantID, conflictID, resolution, resolvedBy, now)
	if err != nil {
		return false, fmt.Errorf("mark conflict actioned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark conflict actioned rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	actions := notification.Actions
	if actions == nil {
		actions = []string{}
	}
	encodedActions, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal notification actions: %w", err)
	}
	payload := notification.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, type, resource_kind, resource_id, payload, actions)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)
	`, notification.ID, notification.TenantID, notification.Type,
		notification.ResourceKind, notification.ResourceID, string(payload), string(encodedActions))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, tenantID, notificationID string) (Notification, error) {
	var item Notification
	var payload, actionsRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, type, resource_kind, resource_id, payload, actions, created_at
		FROM notifications
		WHERE tenant_id=$1 AND id=$2
	`, tenantID, notificationID).Scan(
		&item.ID,
		&item.TenantID,
		&item.Type,
		&item.ResourceKind,
		&item.ResourceID,
		&payload,
		&actionsRaw,
		&item.CreatedAt,
	)
	if err != nil {
		return Notification{}, err
	}
	item.Payload = json.RawMessage(payload)
	_ = json.Unmarshal(actionsRaw, &item.Actions)
	return item, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, tenantID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, type, resource_kind, resource_id, payload, actions, created_at
		FROM notifications
		WHERE tenant_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var payload, actionsRaw []byte
		if err := rows.Scan(
			&item.ID,
			&item.TenantID,
			&item.Type,
			&item.ResourceKind,
			&item.ResourceID,
			&payload,
			&actionsRaw,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		_ = json.Unmarshal(actionsRaw, &item.Actions)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, tenantID string) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, domain, notes, updated_by_name, created_at, updated_at
		FROM companies
		WHERE tenant_id=$1
		ORDER BY updated_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		var item Company
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.Domain, &item.Notes, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, tenantID, companyID string) (Company, error) {
	var item Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, domain, notes, updated_by_name, created_at, updated_at
		FROM companies
		WHERE tenant_id=$1 AND id=$2
	`, tenantID, companyID).Scan(&item.ID, &item.TenantID, &item.Name, &item.Domain, &item.Notes, &item.UpdatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Company{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCompany(ctx context.Context, company Company) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, tenant_id, name, domain, notes, updated_by_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO NOTHING
	`, company.ID, company.TenantID, company.Name, company.Domain, company.Notes, company.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, company Company) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET name=$3, domain=$4, notes=$5, updated_by_name=$6, updated_at=NOW()
		WHERE tenant_id=$1 AND id=$2
	`, company.TenantID, company.ID, company.Name, company.Domain, company.Notes, company.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCompany(ctx context.Context, tenantID, companyID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE tenant_id=$1 AND id=$2`, tenantID, companyID)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
