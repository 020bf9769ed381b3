package locks

import (
	"context"
	"time"
)

const (
	EventLockForceReleased = "record_locks.lock.force_released"
	EventConflictDetected  = "record_locks.conflict.detected"
	EventConflictResolved  = "record_locks.conflict.resolved"
	EventSettingsUpdated   = "record_locks.settings.updated"
)

// Event is a structured notification handed to the host's delivery system.
type Event struct {
	Type         string
	TenantID     string
	ResourceKind string
	ResourceID   string
	Payload      map[string]any
	Actions      []string
}

// Emitter publishes events. Emission is fire-and-forget relative to the
// governing operation: implementations log failures and never return them.
// Emit reports the id of the stored notification, or "" when none was
// recorded.
type Emitter interface {
	Emit(ctx context.Context, event Event) string
}

// NopEmitter satisfies Emitter for hosts without a notification system.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) string { return "" }

// Intent is a one-time authorization to bypass a known conflict with a
// chosen resolution on the next mutation attempt.
type Intent struct {
	Resolution string    `json:"resolution"`
	ArmedBy    string    `json:"armed_by"`
	ArmedAt    time.Time `json:"armed_at"`
}

// IntentStore holds armed resolution intents. Consume must be atomic: the
// intent is removed in the same step it is read, so two concurrent attempts
// yield exactly one winner and the intent is disarmed win or lose.
type IntentStore interface {
	Arm(ctx context.Context, tenantID, conflictID string, intent Intent, ttl time.Duration) error
	Consume(ctx context.Context, tenantID, conflictID string) (Intent, bool, error)
}
