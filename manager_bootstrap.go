package sessionkit

import (
	"context"
	"errors"
	"time"

	"github.com/tableorder/sessionkit/credential"
	"github.com/tableorder/sessionkit/transport"
)

// Bootstrap restores the session from storage at process start. It always
// settles into a definite state:
//
//   - no stored credential: Anonymous
//   - stored and fresh: Authenticated, with zero network traffic
//   - stored but stale: a single refresh exchange decides between
//     Authenticated and Expired
//   - stored but undecodable: Expired, storage left intact for diagnosis
//
// The returned snapshot is the settled state. The error is non-nil only
// when the outcome is undecided: the manager is closed or ctx ended while
// waiting on the exchange.
func (m *Manager) Bootstrap(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, ErrManagerClosed
	}
	m.snap = Snapshot{State: StateBootstrapping}
	m.expiredOnce = false
	m.mu.Unlock()
	m.notifyWatchers()

	raw, ok := m.store.Credential(ctx)
	if !ok {
		m.setSnapshot(Snapshot{State: StateAnonymous})
		m.metrics.Inc(MetricBootstrapAnonymous)
		m.log.Debug().Msg("bootstrap: no stored session")
		return m.Snapshot(), nil
	}

	claims, err := credential.Decode(raw)
	if err != nil {
		m.log.Warn().Err(err).Msg("bootstrap: stored credential undecodable")
		m.expire(ErrInvalidCredential, false)
		m.metrics.Inc(MetricBootstrapExpired)
		return m.Snapshot(), nil
	}

	if claims.Fresh(time.Now()) {
		m.setSnapshot(Snapshot{
			State:     StateAuthenticated,
			Identity:  identityFromClaims(claims),
			ExpiresAt: claims.ExpiresAt,
		})
		m.metrics.Inc(MetricBootstrapAuthenticated)
		m.log.Debug().
			Str("subject", claims.Subject).
			Time("expires_at", claims.ExpiresAt).
			Msg("bootstrap: restored fresh session")
		return m.Snapshot(), nil
	}

	// Stale credential. One exchange settles it; the observer callbacks
	// drive the Refreshing, Authenticated, and Expired transitions.
	if _, err := m.coord.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return m.Snapshot(), err
		}
		if errors.Is(err, transport.ErrClosed) {
			return m.Snapshot(), ErrSessionClosed
		}
		m.metrics.Inc(MetricBootstrapExpired)
		return m.Snapshot(), nil
	}

	m.metrics.Inc(MetricBootstrapAuthenticated)
	return m.Snapshot(), nil
}
