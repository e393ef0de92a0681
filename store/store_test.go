package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore() (*Store, *MemoryKV) {
	kv := NewMemoryKV()
	return New(kv, "session.credential", "session.capability", zerolog.Nop()), kv
}

func TestCredentialEmptyOnFreshStore(t *testing.T) {
	s, _ := newTestStore()

	if cred, ok := s.Credential(context.Background()); ok || cred != "" {
		t.Fatalf("fresh store returned credential %q", cred)
	}
}

func TestSetSessionWriteThrough(t *testing.T) {
	s, kv := newTestStore()
	ctx := context.Background()

	s.SetSession(ctx, "cred-1", "cap-1")

	if cred, ok := s.Credential(ctx); !ok || cred != "cred-1" {
		t.Fatalf("Credential = (%q, %v)", cred, ok)
	}
	if cap, ok := s.RefreshCapability(ctx); !ok || cap != "cap-1" {
		t.Fatalf("RefreshCapability = (%q, %v)", cap, ok)
	}
	if v, ok, _ := kv.Get(ctx, "session.credential"); !ok || v != "cred-1" {
		t.Fatalf("backend credential = (%q, %v)", v, ok)
	}
	if v, ok, _ := kv.Get(ctx, "session.capability"); !ok || v != "cap-1" {
		t.Fatalf("backend capability = (%q, %v)", v, ok)
	}
}

func TestEmptyCapabilityKeepsExisting(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	s.SetSession(ctx, "cred-1", "cap-1")
	s.SetSession(ctx, "cred-2", "")

	if cap, ok := s.RefreshCapability(ctx); !ok || cap != "cap-1" {
		t.Fatalf("capability after non-reissuing refresh = (%q, %v)", cap, ok)
	}
	if cred, _ := s.Credential(ctx); cred != "cred-2" {
		t.Fatalf("credential = %q", cred)
	}
}

func TestSessionSurvivesReload(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	first := New(kv, "c", "r", zerolog.Nop())
	first.SetSession(ctx, "cred-1", "cap-1")

	// A second Store over the same backend simulates a process restart.
	second := New(kv, "c", "r", zerolog.Nop())
	if cred, ok := second.Credential(ctx); !ok || cred != "cred-1" {
		t.Fatalf("reloaded credential = (%q, %v)", cred, ok)
	}
	if cap, ok := second.RefreshCapability(ctx); !ok || cap != "cap-1" {
		t.Fatalf("reloaded capability = (%q, %v)", cap, ok)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s, kv := newTestStore()
	ctx := context.Background()

	var cleared int
	s.Subscribe(func(ev Event) {
		if ev.Type == EventCleared {
			cleared++
		}
	})

	s.SetSession(ctx, "cred-1", "cap-1")
	s.Clear(ctx)
	s.Clear(ctx)

	if cred, ok := s.Credential(ctx); ok || cred != "" {
		t.Fatalf("credential after clear = (%q, %v)", cred, ok)
	}
	if cap, ok := s.RefreshCapability(ctx); ok || cap != "" {
		t.Fatalf("capability after clear = (%q, %v)", cap, ok)
	}
	if _, ok, _ := kv.Get(ctx, "session.credential"); ok {
		t.Fatal("backend still holds credential after clear")
	}
	if cleared != 1 {
		t.Fatalf("cleared notifications = %d, want 1", cleared)
	}
}

func TestSubscribeCancel(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	var events int
	cancel := s.Subscribe(func(Event) { events++ })

	s.SetSession(ctx, "cred-1", "")
	cancel()
	s.SetSession(ctx, "cred-2", "")

	if events != 1 {
		t.Fatalf("events after cancel = %d, want 1", events)
	}
}

// brokenKV fails every operation, standing in for disabled or full storage.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("storage disabled")
}
func (brokenKV) Set(context.Context, string, string) error { return errors.New("quota exceeded") }
func (brokenKV) Delete(context.Context, string) error      { return errors.New("storage disabled") }

func TestBrokenBackendDegradesToAnonymous(t *testing.T) {
	s := New(brokenKV{}, "c", "r", zerolog.Nop())
	ctx := context.Background()

	if cred, ok := s.Credential(ctx); ok || cred != "" {
		t.Fatalf("broken backend yielded credential %q", cred)
	}

	// Writes are swallowed; the mirror still serves this process.
	s.SetSession(ctx, "cred-1", "cap-1")
	if cred, ok := s.Credential(ctx); !ok || cred != "cred-1" {
		t.Fatalf("mirror after failed write-through = (%q, %v)", cred, ok)
	}

	// Clear must not panic or error either.
	s.Clear(ctx)
	if cred, ok := s.Credential(ctx); ok || cred != "" {
		t.Fatalf("credential after clear = (%q, %v)", cred, ok)
	}
}

func TestConcurrentReadersSeeConsistentSession(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	s.SetSession(ctx, "cred-0", "cap-0")

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			s.SetSession(ctx, "cred-next", "cap-next")
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 1000; j++ {
				if cred, ok := s.Credential(ctx); ok && cred == "" {
					t.Error("observed held-but-empty credential")
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}
