package intent

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mercato/api/internal/locks"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create intent store: %v", err)
	}
	return store, s
}

func TestArmAndConsume(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	armed := locks.Intent{Resolution: "accept_mine", ArmedBy: "user-1", ArmedAt: time.Now().UTC()}

	if err := store.Arm(ctx, "t-acme", "cfl_1", armed, time.Minute); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	got, ok, err := store.Consume(ctx, "t-acme", "cfl_1")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !ok {
		t.Fatal("expected armed intent")
	}
	if got.Resolution != "accept_mine" || got.ArmedBy != "user-1" {
		t.Errorf("unexpected intent: %+v", got)
	}
}

func TestConsumeIsSingleShot(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Arm(ctx, "t-acme", "cfl_1", locks.Intent{Resolution: "accept_incoming"}, time.Minute); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	if _, ok, err := store.Consume(ctx, "t-acme", "cfl_1"); err != nil || !ok {
		t.Fatalf("first Consume = (%v, %v), want armed", ok, err)
	}
	if _, ok, err := store.Consume(ctx, "t-acme", "cfl_1"); err != nil || ok {
		t.Fatalf("second Consume = (%v, %v), want disarmed", ok, err)
	}
}

func TestConsumeMismatchedConflictLeavesIntentArmed(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Arm(ctx, "t-acme", "cfl_1", locks.Intent{Resolution: "accept_mine"}, time.Minute); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	// a different conflict id must not consume the armed intent
	if _, ok, err := store.Consume(ctx, "t-acme", "cfl_other"); err != nil || ok {
		t.Fatalf("Consume(other) = (%v, %v), want disarmed", ok, err)
	}
	if _, ok, err := store.Consume(ctx, "t-acme", "cfl_1"); err != nil || !ok {
		t.Fatalf("Consume(cfl_1) = (%v, %v), want still armed", ok, err)
	}
}

func TestIntentExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Arm(ctx, "t-acme", "cfl_1", locks.Intent{Resolution: "accept_mine"}, time.Second); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	s.FastForward(2 * time.Second)

	if _, ok, err := store.Consume(ctx, "t-acme", "cfl_1"); err != nil || ok {
		t.Fatalf("Consume after TTL = (%v, %v), want disarmed", ok, err)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Arm(ctx, "t-acme", "cfl_1", locks.Intent{Resolution: "accept_mine"}, time.Minute); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}

	if _, ok, err := store.Consume(ctx, "t-other", "cfl_1"); err != nil || ok {
		t.Fatalf("cross-tenant Consume = (%v, %v), want disarmed", ok, err)
	}
}
