package locks

import (
	"fmt"

	"mercato/api/internal/store"
)

const (
	MinTimeoutSeconds   = 30
	MaxTimeoutSeconds   = 3600
	MinHeartbeatSeconds = 5
	MaxHeartbeatSeconds = 300
)

// DefaultSettings is what a tenant gets before anything is configured:
// locking disabled, optimistic strategy, conservative timeouts.
func DefaultSettings(tenantID string) store.LockSettings {
	return store.LockSettings{
		TenantID:         tenantID,
		Enabled:          false,
		Strategy:         store.StrategyOptimistic,
		TimeoutSeconds:   300,
		HeartbeatSeconds: 30,
		EnabledResources: []string{},
		NotifyOnConflict: true,
	}
}

func ValidateSettings(settings store.LockSettings) error {
	if settings.Strategy != store.StrategyOptimistic && settings.Strategy != store.StrategyPessimistic {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidSettings, settings.Strategy)
	}
	if settings.TimeoutSeconds < MinTimeoutSeconds || settings.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("%w: timeoutSeconds must be in [%d,%d]", ErrInvalidSettings, MinTimeoutSeconds, MaxTimeoutSeconds)
	}
	if settings.HeartbeatSeconds < MinHeartbeatSeconds || settings.HeartbeatSeconds > MaxHeartbeatSeconds {
		return fmt.Errorf("%w: heartbeatSeconds must be in [%d,%d]", ErrInvalidSettings, MinHeartbeatSeconds, MaxHeartbeatSeconds)
	}
	for _, kind := range settings.EnabledResources {
		if kind == "" {
			return fmt.Errorf("%w: empty resource kind in enabledResources", ErrInvalidSettings)
		}
	}
	return nil
}

// Governs reports whether mutations to the given resource kind are subject
// to locking under these settings.
func Governs(settings store.LockSettings, resourceKind string) bool {
	if !settings.Enabled {
		return false
	}
	for _, kind := range settings.EnabledResources {
		if kind == resourceKind {
			return true
		}
	}
	return false
}
