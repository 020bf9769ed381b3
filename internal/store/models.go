package store

import (
	"encoding/json"
	"time"
)

const (
	StrategyOptimistic  = "optimistic"
	StrategyPessimistic = "pessimistic"
)

const (
	LockStatusActive        = "active"
	LockStatusReleased      = "released"
	LockStatusExpired       = "expired"
	LockStatusForceReleased = "force_released"
)

const (
	ConflictStatusOpen     = "open"
	ConflictStatusActioned = "actioned"
)

const (
	ResolutionNormal         = "normal"
	ResolutionAcceptMine     = "accept_mine"
	ResolutionAcceptIncoming = "accept_incoming"
	ResolutionMerged         = "merged"
)

// LockSettings is the tenant-scoped locking configuration. It is loaded per
// request and passed by value into the locking core; there is no process-wide
// settings state.
type LockSettings struct {
	TenantID              string
	Enabled               bool
	Strategy              string
	TimeoutSeconds        int
	HeartbeatSeconds      int
	EnabledResources      []string
	AllowForceUnlock      bool
	AllowIncomingOverride bool
	NotifyOnConflict      bool
	UpdatedAt             time.Time
}

// Lock is the durable record of a pessimistic reservation. At most one
// active row exists per (tenant, resource kind, resource id).
type Lock struct {
	TenantID      string
	ResourceKind  string
	ResourceID    string
	Token         string
	OwnerID       string
	OwnerName     string
	Status        string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	ReleasedAt    *time.Time
	ReleaseReason string
}

// ActionLogEntry is one append-only mutation record. LogID increases
// monotonically and gaplessly per resource; the latest entry is the
// resource's version marker for optimistic detection.
type ActionLogEntry struct {
	TenantID     string
	ResourceKind string
	ResourceID   string
	LogID        int64
	ActorID      string
	ActorName    string
	Action       string
	Snapshot     json.RawMessage
	Deleted      bool
	CreatedAt    time.Time
}

// Conflict is the durable audit record of a detected optimistic conflict.
// Rows are never deleted; status moves open -> actioned exactly once.
type Conflict struct {
	ID                    string
	TenantID              string
	ResourceKind          string
	ResourceID            string
	BaseActionLogID       int64
	IncomingActionLogID   int64
	Status                string
	AllowIncomingOverride bool
	ResolutionOptions     []string
	ChangedFields         []string
	Resolution            string
	ResolvedBy            string
	CreatedAt             time.Time
	ActionedAt            *time.Time
}

type Notification struct {
	ID           string
	TenantID     string
	Type         string
	ResourceKind string
	ResourceID   string
	Payload      json.RawMessage
	Actions      []string
	CreatedAt    time.Time
}

// Company is the demo governed resource (resource kind "customers.company").
type Company struct {
	ID        string
	TenantID  string
	Name      string
	Domain    string
	Notes     string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
