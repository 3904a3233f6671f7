package webui

import (
	"errors"
	"testing"
	"time"
)

func TestSessionStoreLifecycle(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(time.Hour)
	store.now = clock.now

	session, err := store.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(session.ID) != 2*sessionIDBytes {
		t.Errorf("id length = %d, want %d", len(session.ID), 2*sessionIDBytes)
	}
	if !session.ExpiresAt.Equal(clock.t.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", session.ExpiresAt)
	}

	got, err := store.Get(session.ID)
	if err != nil || got.ID != session.ID {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	clock.advance(time.Hour)
	if _, err := store.Get(session.ID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Get() after ttl error = %v, want ErrSessionExpired", err)
	}
	if _, err := store.Get(session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get() after expiry cleanup error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreUniqueIDs(t *testing.T) {
	store := NewSessionStore(time.Hour)
	seen := make(map[string]bool)
	for range 100 {
		s, err := store.Create()
		if err != nil {
			t.Fatal(err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
	}
	if store.Count() != 100 {
		t.Errorf("Count() = %d, want 100", store.Count())
	}
}

func TestSessionStoreDeleteAndCleanup(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(time.Hour)
	store.now = clock.now

	old, _ := store.Create()
	clock.advance(30 * time.Minute)
	young, _ := store.Create()
	gone, _ := store.Create()

	store.Delete(gone.ID)
	store.Delete("unknown")
	if _, err := store.Get(gone.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(deleted) error = %v", err)
	}

	clock.advance(45 * time.Minute)
	if removed := store.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if _, err := store.Get(old.ID); err == nil {
		t.Error("expired session survived cleanup")
	}
	if _, err := store.Get(young.ID); err != nil {
		t.Errorf("live session lost: %v", err)
	}
}
