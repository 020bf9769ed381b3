package app

import (
	"context"
	"net/http"
	"strconv"

	"mercato/api/internal/locks"
	"mercato/api/internal/store"
)

// LockHeaders carries the client's locking context on governed mutations.
type LockHeaders struct {
	ResourceKind string
	ResourceID   string
	Token        string
	BaseLogID    int64
	BaseLogSet   bool
	Resolution   string
	ConflictID   string
}

func ParseLockHeaders(r *http.Request) LockHeaders {
	hdr := LockHeaders{
		ResourceKind: r.Header.Get("x-om-record-lock-kind"),
		ResourceID:   r.Header.Get("x-om-record-lock-resource-id"),
		Token:        r.Header.Get("x-om-record-lock-token"),
		Resolution:   r.Header.Get("x-om-record-lock-resolution"),
		ConflictID:   r.Header.Get("x-om-record-lock-conflict-id"),
	}
	if raw := r.Header.Get("x-om-record-lock-base-log-id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			hdr.BaseLogID = id
			hdr.BaseLogSet = true
		}
	}
	return hdr
}

// GuardDecision tells a mutation endpoint how its write must be landed.
type GuardDecision struct {
	Governed   bool
	Strategy   string
	BaseLogID  int64
	Resolution string
	Bypassed   bool
}

// Guard runs the concurrency checks for one governed mutation. A nil error
// means the write may proceed; the decision says whether the append must be
// head-conditional.
func (s *Service) Guard(ctx context.Context, session Session, resourceKind, resourceID string, hdr LockHeaders) (store.LockSettings, GuardDecision, error) {
	settings, err := s.loadSettings(ctx, session.TenantID)
	if err != nil {
		return store.LockSettings{}, GuardDecision{}, err
	}
	if !locks.Governs(settings, resourceKind) {
		return settings, GuardDecision{}, nil
	}

	if settings.Strategy == store.StrategyPessimistic {
		if err := s.manager.Validate(ctx, settings, resourceKind, resourceID, hdr.Token); err != nil {
			return settings, GuardDecision{}, err
		}
		return settings, GuardDecision{Governed: true, Strategy: store.StrategyPessimistic}, nil
	}

	if !hdr.BaseLogSet {
		return settings, GuardDecision{}, domainError(http.StatusBadRequest, "MISSING_BASE_LOG_ID",
			"x-om-record-lock-base-log-id is required for optimistic writes", nil)
	}
	decision, err := s.detector.Check(ctx, settings, resourceKind, resourceID, locks.CheckRequest{
		BaseLogID:  hdr.BaseLogID,
		ConflictID: hdr.ConflictID,
		Resolution: hdr.Resolution,
		ActorID:    session.UserID,
		ActorName:  session.UserName,
	})
	if err != nil {
		return settings, GuardDecision{}, err
	}
	return settings, GuardDecision{
		Governed:   true,
		Strategy:   store.StrategyOptimistic,
		BaseLogID:  decision.BaseLogID,
		Resolution: decision.Resolution,
		Bypassed:   decision.Bypassed,
	}, nil
}
