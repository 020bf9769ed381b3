package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"mercato/api/internal/locks"
	"mercato/api/internal/store"
)

type fakeSink struct {
	inserted []store.Notification
	err      error
}

func (f *fakeSink) InsertNotification(_ context.Context, n store.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, n)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("broker down")
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestEmitStoresAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(context.Background(), "test:notifications")
	defer sub.Close()
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := &fakeSink{}
	svc := New(sink, NewRedisPublisher(client), "test:notifications", testLogger())

	id := svc.Emit(context.Background(), locks.Event{
		Type:         locks.EventConflictDetected,
		TenantID:     "t-acme",
		ResourceKind: "customers.company",
		ResourceID:   "C123",
		Payload:      map[string]any{"conflictId": "cfl_1"},
		Actions:      []string{"accept_mine"},
	})
	if id == "" {
		t.Fatal("expected a notification id")
	}
	if len(sink.inserted) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(sink.inserted))
	}
	if sink.inserted[0].Type != locks.EventConflictDetected {
		t.Errorf("unexpected type %s", sink.inserted[0].Type)
	}

	msg, err := sub.ReceiveMessage(context.Background())
	if err != nil {
		t.Fatalf("receive published event: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
		t.Fatalf("decode published event: %v", err)
	}
	if wire["id"] != id || wire["type"] != locks.EventConflictDetected {
		t.Errorf("unexpected wire event: %v", wire)
	}
}

func TestEmitSwallowsPublishFailure(t *testing.T) {
	sink := &fakeSink{}
	svc := New(sink, failingPublisher{}, "test:notifications", testLogger())

	id := svc.Emit(context.Background(), locks.Event{
		Type:     locks.EventLockForceReleased,
		TenantID: "t-acme",
		Payload:  map[string]any{"ownerUserId": "user-1"},
	})
	if id == "" {
		t.Fatal("publish failure must not lose the stored notification")
	}
}

func TestEmitSwallowsStoreFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	svc := New(sink, NopPublisher{}, "test:notifications", testLogger())

	id := svc.Emit(context.Background(), locks.Event{
		Type:     locks.EventConflictResolved,
		TenantID: "t-acme",
	})
	if id != "" {
		t.Errorf("expected empty id when the row was not stored, got %q", id)
	}
}
