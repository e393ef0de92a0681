package sessionkit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tableorder/sessionkit/credential"
	"github.com/tableorder/sessionkit/internal/events"
	"github.com/tableorder/sessionkit/role"
	"github.com/tableorder/sessionkit/store"
	"github.com/tableorder/sessionkit/transport"
)

// Manager owns the session lifecycle: bootstrap from storage, login,
// refresh-driven state transitions, and logout. It is safe for concurrent
// use; all mutation happens under one mutex and consumers only ever see
// completed [Snapshot] values.
type Manager struct {
	cfg        Config
	log        zerolog.Logger
	store      *store.Store
	coord      *transport.Coordinator
	base       http.RoundTripper
	metrics    *Metrics
	dispatcher *events.Dispatcher

	mu          sync.RWMutex
	snap        Snapshot
	expiredOnce bool
	closed      bool

	watchMu   sync.Mutex
	watchers  map[uint64]chan Snapshot
	nextWatch uint64

	wg sync.WaitGroup
}

// Snapshot returns the current session view.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// State returns the current lifecycle state.
func (m *Manager) State() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.State
}

// IsAuthenticated reports whether the session holds a usable identity.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().Authenticated()
}

// Role returns the canonical role of the current session holder, or the
// zero Role when not authenticated.
func (m *Manager) Role() role.Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap.Identity.Role
}

// Metrics exposes the manager's collector for exporters.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// MetricsSnapshot copies the current counter and histogram values.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// EventsDropped reports lifecycle events discarded under dispatcher
// backpressure.
func (m *Manager) EventsDropped() uint64 {
	return m.dispatcher.Dropped()
}

// Transport returns the refresh-coordinating round tripper. Give it to any
// http.Client whose requests should carry the session credential.
func (m *Manager) Transport() http.RoundTripper {
	return m.coord
}

// Client returns an http.Client wired through the coordinator, bounded by
// the configured request timeout.
func (m *Manager) Client() *http.Client {
	return &http.Client{
		Transport: m.coord,
		Timeout:   m.cfg.HTTP.RequestTimeout,
	}
}

// Store exposes the credential store, mainly for UI-region subscriptions
// to stored/cleared notifications.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Watch returns a channel of session snapshots, delivered on every state
// transition, and a cancel function. Slow consumers miss intermediate
// snapshots rather than blocking transitions; the latest one is always
// retrievable via [Manager.Snapshot].
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	m.watchMu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	return ch, func() {
		m.watchMu.Lock()
		delete(m.watchers, id)
		m.watchMu.Unlock()
	}
}

// Logout clears the stored session, rejects queued refresh waiters, and
// returns to Anonymous. It is idempotent; a logout with no session held
// does nothing observable.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	had := m.snap.State != StateAnonymous
	subject := m.snap.Identity.Subject
	m.snap = Snapshot{State: StateAnonymous}
	m.expiredOnce = false
	m.mu.Unlock()

	m.coord.Reset()
	m.store.Clear(ctx)

	if had {
		m.notifyWatchers()
		m.metrics.Inc(MetricLogout)
		m.emit(ctx, Event{Type: EventLogout, Subject: subject})
	}
	return nil
}

// Close tears the manager down: queued waiters are rejected, the event
// dispatcher drains, and background enrichment finishes. The manager is
// unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.coord.Close()
	m.wg.Wait()
	m.dispatcher.Close()
}

// ExchangeStarted implements transport.Observer. A request hitting 401 or
// a bootstrap renewing a stale credential moved the session into an
// exchange; surface that as Refreshing so guards keep treating the holder
// as authenticated.
func (m *Manager) ExchangeStarted() {
	m.mu.Lock()
	if m.snap.State == StateAuthenticated || m.snap.State == StateBootstrapping {
		m.snap.State = StateRefreshing
		m.mu.Unlock()
		m.notifyWatchers()
		return
	}
	m.mu.Unlock()
}

// ExchangeSucceeded implements transport.Observer. The renewed credential
// becomes the session identity.
func (m *Manager) ExchangeSucceeded(cred string, took time.Duration) {
	m.metrics.Inc(MetricRefreshSuccess)
	m.metrics.Observe(MetricRefreshLatency, took)

	claims, err := credential.Decode(cred)
	if err != nil {
		// The exchange endpoint handed back garbage. Treat it like a
		// rejected exchange.
		m.log.Error().Err(err).Msg("renewed credential is undecodable")
		m.expire(err, true)
		return
	}

	m.mu.Lock()
	prev := m.snap.Identity
	m.snap = Snapshot{
		State:     StateAuthenticated,
		Identity:  identityFromClaims(claims),
		ExpiresAt: claims.ExpiresAt,
	}
	// Cosmetic fields are not in the credential; carry them across the
	// renewal.
	m.snap.Identity.DisplayName = prev.DisplayName
	m.snap.Identity.AvatarURL = prev.AvatarURL
	m.expiredOnce = false
	m.mu.Unlock()

	m.notifyWatchers()
	m.emit(context.Background(), Event{
		Type:    EventRefreshSucceeded,
		Subject: claims.Subject,
		Role:    string(role.Canonicalize(claims.Role)),
	})
}

// ExchangeFailed implements transport.Observer.
func (m *Manager) ExchangeFailed(err error) {
	if errors.Is(err, transport.ErrClosed) {
		// Logout or Close raced the exchange; the session was already
		// settled by whoever tore it down.
		return
	}
	m.metrics.Inc(MetricRefreshFailure)
	m.emit(context.Background(), Event{Type: EventRefreshFailed, Error: err.Error()})

	// A definitively rejected capability cannot renew any future session
	// either; drop it from storage. A transient network failure keeps the
	// stored session so the next bootstrap can retry.
	definitive := errors.Is(err, ErrRefreshRejected) || errors.Is(err, ErrExpiredNoRefresh)
	m.expire(err, definitive)
}

// WaiterJoined implements transport.Observer.
func (m *Manager) WaiterJoined() {
	m.metrics.Inc(MetricRefreshJoined)
}

// expire moves the session into the terminal Expired state. The expired
// event fires exactly once per episode; repeated exchange failures while
// already Expired stay silent so the UI shows a single blocking notice.
func (m *Manager) expire(cause error, clearStorage bool) {
	m.mu.Lock()
	if m.snap.State == StateAnonymous || m.closed {
		m.mu.Unlock()
		return
	}
	first := !m.expiredOnce
	m.expiredOnce = true
	m.snap = Snapshot{State: StateExpired, NoticeArmed: true}
	m.mu.Unlock()

	if clearStorage {
		m.store.Clear(context.Background())
	}
	m.notifyWatchers()

	if first {
		m.metrics.Inc(MetricSessionExpired)
		m.emit(context.Background(), Event{Type: EventSessionExpired, Error: cause.Error()})
	}
}

func (m *Manager) setSnapshot(snap Snapshot) {
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
	m.notifyWatchers()
}

func (m *Manager) notifyWatchers() {
	snap := m.Snapshot()

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) {
	if m.dispatcher == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.At = time.Now()
	m.dispatcher.Emit(ctx, ev)
}

func identityFromClaims(c *credential.Claims) Identity {
	return Identity{
		Subject:   c.Subject,
		AccountID: c.AccountID,
		BranchID:  c.BranchID,
		Role:      role.Canonicalize(c.Role),
	}
}
