package locks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/store"
)

// NotificationReader resolves an actionable notification back to its conflict.
type NotificationReader interface {
	GetNotification(ctx context.Context, tenantID, notificationID string) (store.Notification, error)
}

// Coordinator maps a conflict notification's actionable choices onto armed
// resolution intents. Executing an action arms exactly one intent; the
// detector consumes it on the next mutation attempt.
type Coordinator struct {
	conflicts     ConflictStore
	notifications NotificationReader
	intents       IntentStore
	intentTTL     time.Duration
	clock         clock.Clock
	log           *logrus.Logger
}

func NewCoordinator(conflicts ConflictStore, notifications NotificationReader, intents IntentStore, intentTTL time.Duration, clk clock.Clock, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		conflicts:     conflicts,
		notifications: notifications,
		intents:       intents,
		intentTTL:     intentTTL,
		clock:         clk,
		log:           log,
	}
}

// ExecuteAction validates that the conflict behind the notification is still
// open and arms the chosen resolution. Re-executing against an actioned
// conflict fails with ErrAlreadyActioned: resolutions apply once, not many.
func (c *Coordinator) ExecuteAction(ctx context.Context, tenantID, notificationID, actionID, actorID string) error {
	notification, err := c.notifications.GetNotification(ctx, tenantID, notificationID)
	if err != nil {
		return err
	}
	if notification.Type != EventConflictDetected {
		return ErrNotActionable
	}

	var payload struct {
		ConflictID string `json:"conflictId"`
	}
	if err := json.Unmarshal(notification.Payload, &payload); err != nil || payload.ConflictID == "" {
		return fmt.Errorf("notification %s has no conflict id: %w", notificationID, ErrNotActionable)
	}

	conflict, err := c.conflicts.GetConflict(ctx, tenantID, payload.ConflictID)
	if err != nil {
		return err
	}
	if conflict.Status != store.ConflictStatusOpen {
		return ErrAlreadyActioned
	}
	// "merged" differs from accept_mine only in how the payload was built
	// upstream, so it rides on the accept_mine grant
	required := actionID
	if actionID == store.ResolutionMerged {
		required = store.ResolutionAcceptMine
	}
	if !optionAllowed(conflict.ResolutionOptions, required) {
		return fmt.Errorf("%w: resolution %q not offered for conflict %s", ErrNotPermitted, actionID, conflict.ID)
	}

	intent := Intent{
		Resolution: actionID,
		ArmedBy:    actorID,
		ArmedAt:    c.clock.Now().UTC(),
	}
	if err := c.intents.Arm(ctx, tenantID, conflict.ID, intent, c.intentTTL); err != nil {
		return fmt.Errorf("arm intent: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"tenant":     tenantID,
		"conflict":   conflict.ID,
		"resolution": actionID,
		"armed_by":   actorID,
	}).Info("resolution intent armed")
	return nil
}

func optionAllowed(options []string, actionID string) bool {
	for _, option := range options {
		if option == actionID {
			return true
		}
	}
	return false
}
