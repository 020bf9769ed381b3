// Package notify delivers record-lock events to the platform's notification
// system. Delivery is fire-and-forget: a stored notification row gives
// in-app surfaces something to render and act on, and a pub/sub publish
// fans the event out to live listeners. Neither step may fail the operation
// that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/locks"
	"mercato/api/internal/store"
	"mercato/api/internal/util"
)

// Sink persists notification rows.
type Sink interface {
	InsertNotification(ctx context.Context, notification store.Notification) error
}

// Publisher pushes a serialized event to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }

// RedisPublisher fans events out over Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

type Service struct {
	sink      Sink
	publisher Publisher
	channel   string
	log       *logrus.Logger
}

func New(sink Sink, publisher Publisher, channel string, log *logrus.Logger) *Service {
	return &Service{sink: sink, publisher: publisher, channel: channel, log: log}
}

// Emit stores and publishes the event. Failures are logged and swallowed;
// the returned notification id is "" when the row could not be stored.
func (s *Service) Emit(ctx context.Context, event locks.Event) string {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		s.log.WithError(err).WithField("type", event.Type).Error("encode notification payload")
		payload = []byte(`{}`)
	}

	notification := store.Notification{
		ID:           util.NewID("ntf"),
		TenantID:     event.TenantID,
		Type:         event.Type,
		ResourceKind: event.ResourceKind,
		ResourceID:   event.ResourceID,
		Payload:      payload,
		Actions:      event.Actions,
	}

	notificationID := notification.ID
	if err := s.sink.InsertNotification(ctx, notification); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"tenant": event.TenantID,
			"type":   event.Type,
		}).Error("store notification")
		notificationID = ""
	}

	wire, err := json.Marshal(map[string]any{
		"id":           notificationID,
		"tenantId":     event.TenantID,
		"type":         event.Type,
		"resourceKind": event.ResourceKind,
		"resourceId":   event.ResourceID,
		"payload":      event.Payload,
		"actions":      event.Actions,
	})
	if err != nil {
		s.log.WithError(err).WithField("type", event.Type).Error("encode notification event")
		return notificationID
	}
	if err := s.publisher.Publish(ctx, s.channel, wire); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"tenant": event.TenantID,
			"type":   event.Type,
		}).Warn("publish notification")
	}
	return notificationID
}
