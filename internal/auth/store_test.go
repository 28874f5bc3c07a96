package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

func TestSessionStorePutGet(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewSessionStore(clock, time.Hour)

	profileID := uuid.New()
	store.Put("token-1", profileID)

	got, ok := store.Get("token-1")
	if !ok || got != profileID {
		t.Fatalf("Get = (%s, %v), want (%s, true)", got, ok, profileID)
	}
	if _, ok := store.Get("unknown"); ok {
		t.Error("unknown token resolved")
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewSessionStore(clock, time.Hour)

	store.Put("token-1", uuid.New())
	clock.Advance(time.Hour + time.Second)

	if _, ok := store.Get("token-1"); ok {
		t.Error("expired token resolved")
	}

	// Re-putting refreshes the TTL.
	profileID := uuid.New()
	store.Put("token-1", profileID)
	clock.Advance(30 * time.Minute)
	if got, ok := store.Get("token-1"); !ok || got != profileID {
		t.Error("refreshed token did not resolve")
	}
}

func TestSessionStoreDelete(t *testing.T) {
	store := NewSessionStore(clockwork.NewFakeClock(), time.Hour)
	store.Put("token-1", uuid.New())
	store.Delete("token-1")
	if _, ok := store.Get("token-1"); ok {
		t.Error("deleted token resolved")
	}
}

func TestSessionStoreSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewSessionStore(clock, time.Hour)
	store.Put("token-1", uuid.New())
	store.Put("token-2", uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx, 10*time.Minute)

	clock.BlockUntil(1)
	clock.Advance(2 * time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Len() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("sweep left %d entries", store.Len())
}
