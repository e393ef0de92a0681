package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a store notification.
type EventType uint8

const (
	// EventStored fires after a credential has been written through.
	EventStored EventType = iota
	// EventCleared fires after Clear removed a held session. UI regions
	// that cache identity-derived state (a profile avatar, a branch
	// selector) reset on it without being wired to the session manager.
	EventCleared
)

// Event is delivered synchronously to subscribed listeners.
type Event struct {
	Type EventType
	At   time.Time
}

// Listener receives store events. Listeners run on the mutating goroutine
// and must not call back into the Store.
type Listener func(Event)

// Store holds the current credential and refresh capability with an
// in-memory mirror over a durable [KV] backend. Writes go through to the
// backend and update the mirror under one lock, so a concurrent reader never
// observes a partially-updated session.
type Store struct {
	kv            KV
	log           zerolog.Logger
	credKey       string
	capabilityKey string

	mu         sync.RWMutex
	loaded     bool
	cred       string
	capability string

	subMu     sync.Mutex
	listeners map[uint64]Listener
	nextSub   uint64
}

// New creates a Store over the given backend. credKey and capabilityKey name
// the two slots in the KV; they must differ.
func New(kv KV, credKey, capabilityKey string, log zerolog.Logger) *Store {
	return &Store{
		kv:            kv,
		log:           log,
		credKey:       credKey,
		capabilityKey: capabilityKey,
		listeners:     make(map[uint64]Listener),
	}
}

// Credential returns the currently held credential without decoding it.
// The first call after process start reads the durable backend; a backend
// failure is swallowed and reads as "no credential".
func (s *Store) Credential(ctx context.Context) (string, bool) {
	s.mu.RLock()
	if s.loaded {
		cred := s.cred
		s.mu.RUnlock()
		return cred, cred != ""
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked(ctx)
	}
	return s.cred, s.cred != ""
}

// RefreshCapability returns the held refresh capability. Reserved for the
// refresh coordinator; see the package comment on ownership.
func (s *Store) RefreshCapability(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loadLocked(ctx)
	}
	return s.capability, s.capability != ""
}

// loadLocked populates the mirror from the backend. Callers hold s.mu.
func (s *Store) loadLocked(ctx context.Context) {
	cred, ok, err := s.kv.Get(ctx, s.credKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("session storage read failed, starting anonymous")
	} else if ok {
		s.cred = cred
	}

	capability, ok, err := s.kv.Get(ctx, s.capabilityKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("refresh capability read failed")
	} else if ok {
		s.capability = capability
	}

	s.loaded = true
}

// SetSession writes a new credential through to the backend and updates the
// mirror atomically. A non-empty capability replaces the held one; an empty
// capability keeps whatever the store already holds, covering refresh
// exchanges that do not reissue it. Backend write failures are logged and
// swallowed: the in-memory session stays usable for this process lifetime.
func (s *Store) SetSession(ctx context.Context, credential, capability string) {
	s.mu.Lock()

	if !s.loaded {
		s.loaded = true
	}
	s.cred = credential
	if capability != "" {
		s.capability = capability
	}

	if err := s.kv.Set(ctx, s.credKey, credential); err != nil {
		s.log.Warn().Err(err).Msg("credential write-through failed")
	}
	if capability != "" {
		if err := s.kv.Set(ctx, s.capabilityKey, capability); err != nil {
			s.log.Warn().Err(err).Msg("refresh capability write-through failed")
		}
	}
	s.mu.Unlock()

	s.notify(Event{Type: EventStored, At: time.Now()})
}

// Clear removes the credential and the refresh capability from the mirror
// and the backend. It is idempotent; the cleared notification fires only
// when a session was actually held.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()

	held := s.cred != "" || s.capability != ""
	s.cred = ""
	s.capability = ""
	s.loaded = true

	if err := s.kv.Delete(ctx, s.credKey); err != nil {
		s.log.Warn().Err(err).Msg("credential delete failed")
	}
	if err := s.kv.Delete(ctx, s.capabilityKey); err != nil {
		s.log.Warn().Err(err).Msg("refresh capability delete failed")
	}
	s.mu.Unlock()

	if held {
		s.notify(Event{Type: EventCleared, At: time.Now()})
	}
}

// Subscribe registers a listener for store events and returns its cancel
// function. Subscription is the only notification channel the store offers;
// there is no ambient broadcast.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.listeners, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(ev Event) {
	s.subMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
