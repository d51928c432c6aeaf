package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newIdleSession(key string) *Session {
	return New(Config{Key: key, Mode: ModeTelephony, Logger: zerolog.Nop()})
}

func TestRegistry_CreateLookupRemove(t *testing.T) {
	r := NewRegistry()
	s := newIdleSession("CA123")

	if err := r.Create("CA123", s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := r.Lookup("CA123")
	if err != nil || got != s {
		t.Fatalf("Expected registered session, got %v, %v", got, err)
	}

	if removed := r.Remove("CA123"); removed != s {
		t.Errorf("Expected Remove to return the session")
	}
	if _, err := r.Lookup("CA123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after remove, got %v", err)
	}
	if removed := r.Remove("CA123"); removed != nil {
		t.Errorf("Expected second remove to be a no-op")
	}
}

func TestRegistry_DuplicateCreate(t *testing.T) {
	r := NewRegistry()
	first := newIdleSession("CA1")
	if err := r.Create("CA1", first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := r.Create("CA1", newIdleSession("CA1")); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("Expected ErrDuplicateSession, got %v", err)
	}
	if got, _ := r.Lookup("CA1"); got != first {
		t.Error("Expected the live session not to be overwritten")
	}

	r.Remove("CA1")
	if err := r.Create("CA1", newIdleSession("CA1")); err != nil {
		t.Errorf("Expected create after remove to succeed, got %v", err)
	}
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	if removed := r.Remove("never-started"); removed != nil {
		t.Errorf("Expected nil for unknown key, got %v", removed)
	}
}

func TestRegistry_ReleaseOnlyMatchingSession(t *testing.T) {
	r := NewRegistry()
	old := newIdleSession("CA1")
	current := newIdleSession("CA1")
	if err := r.Create("CA1", current); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	r.Release("CA1", old)
	if r.Count() != 1 {
		t.Fatal("Expected release of a stale session to keep the live one")
	}
	r.Release("CA1", current)
	if r.Count() != 0 {
		t.Error("Expected release of the live session to remove it")
	}
}

func TestRegistry_DrainingAndCloseAll(t *testing.T) {
	r := NewRegistry()
	sessions := []*Session{newIdleSession("a"), newIdleSession("b")}
	for _, s := range sessions {
		if err := r.Create(s.Key(), s); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	r.StartDraining()
	if !r.IsDraining() {
		t.Error("Expected draining")
	}
	if err := r.Create("c", newIdleSession("c")); !errors.Is(err, ErrDraining) {
		t.Errorf("Expected ErrDraining, got %v", err)
	}

	if n := r.CloseAll(); n != 2 {
		t.Errorf("Expected 2 sessions closed, got %d", n)
	}
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
	for _, s := range sessions {
		if s.State() != StateClosed {
			t.Errorf("Expected %s closed, got %s", s.Key(), s.State())
		}
	}
}

func TestRegistry_CloseAllWithReleasingSessions(t *testing.T) {
	r := NewRegistry()
	var s *Session
	s = New(Config{
		Key:     "CA9",
		Mode:    ModeTelephony,
		Logger:  zerolog.Nop(),
		OnClose: func() { r.Release("CA9", s) },
	})
	if err := r.Create("CA9", s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if n := r.CloseAll(); n != 1 {
		t.Errorf("Expected 1 session closed, got %d", n)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('A' + i%26))
			_ = r.Create(key, newIdleSession(key))
			_, _ = r.Lookup(key)
			r.Remove(key)
		}(i)
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
}
