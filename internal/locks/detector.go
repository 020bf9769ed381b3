package locks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/store"
	"mercato/api/internal/util"
)

// ActionLog reads the per-resource mutation sequence.
type ActionLog interface {
	ActionLogHead(ctx context.Context, tenantID, resourceKind, resourceID string) (store.ActionLogEntry, bool, error)
	GetActionLogEntry(ctx context.Context, tenantID, resourceKind, resourceID string, logID int64) (store.ActionLogEntry, error)
}

// ConflictStore persists conflict records.
type ConflictStore interface {
	InsertConflict(ctx context.Context, conflict store.Conflict) error
	GetConflict(ctx context.Context, tenantID, conflictID string) (store.Conflict, error)
	MarkConflictActioned(ctx context.Context, tenantID, conflictID, resolution, resolvedBy string, now time.Time) (bool, error)
}

// CheckRequest is the optimistic-locking context a governed mutation carries.
type CheckRequest struct {
	BaseLogID  int64
	ConflictID string
	Resolution string
	ActorID    string
	ActorName  string
}

// Decision is the detector's verdict for a mutation that may proceed.
type Decision struct {
	BaseLogID  int64
	Resolution string
	Bypassed   bool
}

// Detector implements optimistic conflict detection: it compares the
// caller's base log id against the resource's current head, creates durable
// Conflict records for stale writes, and honors one-shot resolution intents.
type Detector struct {
	actions   ActionLog
	conflicts ConflictStore
	intents   IntentStore
	emitter   Emitter
	clock     clock.Clock
	log       *logrus.Logger
}

func NewDetector(actions ActionLog, conflicts ConflictStore, intents IntentStore, emitter Emitter, clk clock.Clock, log *logrus.Logger) *Detector {
	return &Detector{actions: actions, conflicts: conflicts, intents: intents, emitter: emitter, clock: clk, log: log}
}

// Check decides whether an optimistic governed mutation is safe, conflicting,
// or authorized to bypass a known conflict. The write itself must then land
// with the compare-and-bump append so the head cannot move in between.
func (d *Detector) Check(ctx context.Context, settings store.LockSettings, resourceKind, resourceID string, req CheckRequest) (Decision, error) {
	head, found, err := d.actions.ActionLogHead(ctx, settings.TenantID, resourceKind, resourceID)
	if err != nil {
		return Decision{}, err
	}
	var headID int64
	if found {
		headID = head.LogID
	}

	if found && head.Deleted {
		return Decision{}, ErrRecordDeleted
	}

	if req.ConflictID != "" {
		decision, handled, err := d.tryBypass(ctx, settings, resourceKind, resourceID, headID, req)
		if err != nil {
			return Decision{}, err
		}
		if handled {
			return decision, nil
		}
		// no armed intent for this conflict id, or the conflict is for a
		// different resource: fall through to the ordinary staleness check
	}

	switch {
	case req.BaseLogID == headID:
		return Decision{BaseLogID: headID, Resolution: store.ResolutionNormal}, nil
	case req.BaseLogID > headID:
		return Decision{}, ErrInvalidBase
	}

	conflict, err := d.recordConflict(ctx, settings, resourceKind, resourceID, req.BaseLogID, head)
	if err != nil {
		return Decision{}, err
	}
	return Decision{}, &ConflictError{Conflict: conflict}
}

// tryBypass consumes the armed intent for req.ConflictID, if any. The intent
// only exempts the write it was armed for: the conflict record must name the
// resource being mutated, otherwise nothing is consumed and the ordinary
// staleness check applies. Consumption itself is atomic and unconditional:
// the intent is gone after this attempt whether or not the mutation goes on
// to succeed, which prevents indefinite bypass.
func (d *Detector) tryBypass(ctx context.Context, settings store.LockSettings, resourceKind, resourceID string, headID int64, req CheckRequest) (Decision, bool, error) {
	conflict, err := d.conflicts.GetConflict(ctx, settings.TenantID, req.ConflictID)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, false, nil
	}
	if err != nil {
		return Decision{}, false, err
	}
	if conflict.ResourceKind != resourceKind || conflict.ResourceID != resourceID {
		return Decision{}, false, nil
	}

	intent, armed, err := d.intents.Consume(ctx, settings.TenantID, req.ConflictID)
	if err != nil {
		return Decision{}, false, fmt.Errorf("consume intent: %w", err)
	}
	if !armed {
		return Decision{}, false, nil
	}

	now := d.clock.Now().UTC()
	actioned, err := d.conflicts.MarkConflictActioned(ctx, settings.TenantID, req.ConflictID, intent.Resolution, req.ActorName, now)
	if err != nil {
		return Decision{}, false, err
	}
	if !actioned {
		return Decision{}, false, ErrAlreadyActioned
	}

	d.log.WithFields(logrus.Fields{
		"tenant":     settings.TenantID,
		"conflict":   req.ConflictID,
		"resolution": intent.Resolution,
	}).Info("conflict resolved")

	d.emitter.Emit(ctx, Event{
		Type:         EventConflictResolved,
		TenantID:     settings.TenantID,
		ResourceKind: conflict.ResourceKind,
		ResourceID:   conflict.ResourceID,
		Payload: map[string]any{
			"conflictId": req.ConflictID,
			"resolution": intent.Resolution,
			"resolvedBy": req.ActorName,
		},
	})

	return Decision{BaseLogID: headID, Resolution: intent.Resolution, Bypassed: true}, true, nil
}

func (d *Detector) recordConflict(ctx context.Context, settings store.LockSettings, resourceKind, resourceID string, baseLogID int64, head store.ActionLogEntry) (store.Conflict, error) {
	baseSnapshot := json.RawMessage(`{}`)
	if baseLogID > 0 {
		baseEntry, err := d.actions.GetActionLogEntry(ctx, settings.TenantID, resourceKind, resourceID, baseLogID)
		if err != nil {
			return store.Conflict{}, fmt.Errorf("load base snapshot: %w", err)
		}
		baseSnapshot = baseEntry.Snapshot
	}

	options := []string{store.ResolutionAcceptMine}
	if settings.AllowIncomingOverride {
		options = append(options, store.ResolutionAcceptIncoming)
	}

	conflict := store.Conflict{
		ID:                    util.NewID("cfl"),
		TenantID:              settings.TenantID,
		ResourceKind:          resourceKind,
		ResourceID:            resourceID,
		BaseActionLogID:       baseLogID,
		IncomingActionLogID:   head.LogID,
		Status:                store.ConflictStatusOpen,
		AllowIncomingOverride: settings.AllowIncomingOverride,
		ResolutionOptions:     options,
		ChangedFields:         ChangedFields(baseSnapshot, head.Snapshot),
	}
	if err := d.conflicts.InsertConflict(ctx, conflict); err != nil {
		return store.Conflict{}, err
	}

	d.log.WithFields(logrus.Fields{
		"tenant":   settings.TenantID,
		"resource": resourceKind + "/" + resourceID,
		"conflict": conflict.ID,
		"base":     baseLogID,
		"head":     head.LogID,
	}).Info("conflict detected")

	if settings.NotifyOnConflict {
		d.emitter.Emit(ctx, Event{
			Type:         EventConflictDetected,
			TenantID:     settings.TenantID,
			ResourceKind: resourceKind,
			ResourceID:   resourceID,
			Payload: map[string]any{
				"conflictId":          conflict.ID,
				"baseActionLogId":     conflict.BaseActionLogID,
				"incomingActionLogId": conflict.IncomingActionLogID,
				"changedFields":       conflict.ChangedFields,
			},
			Actions: options,
		})
	}
	return conflict, nil
}
