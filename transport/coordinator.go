package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultExchangeTimeout = 10 * time.Second

// CredentialSource is the narrow view of the credential store the
// coordinator needs: read the bearer credential, read the refresh
// capability, and persist the session an exchange produced.
type CredentialSource interface {
	Credential(ctx context.Context) (string, bool)
	RefreshCapability(ctx context.Context) (string, bool)
	SetSession(ctx context.Context, credential, capability string)
}

// Observer receives coordinator lifecycle callbacks. The session manager
// implements it to drive its Refreshing and Expired transitions and to count
// metrics. Callbacks run outside the coordinator's mutex.
type Observer interface {
	ExchangeStarted()
	ExchangeSucceeded(credential string, took time.Duration)
	ExchangeFailed(err error)
	WaiterJoined()
}

// NopObserver ignores all callbacks.
type NopObserver struct{}

func (NopObserver) ExchangeStarted()                        {}
func (NopObserver) ExchangeSucceeded(string, time.Duration) {}
func (NopObserver) ExchangeFailed(error)                    {}
func (NopObserver) WaiterJoined()                           {}

// Config configures a [Coordinator].
type Config struct {
	// Base is the wrapped transport. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Source supplies and persists credentials. Required.
	Source CredentialSource
	// RefreshURL is the exchange endpoint. Required.
	RefreshURL string
	// ExchangeTimeout bounds a single refresh exchange so a hung exchange
	// cannot starve queued requests. Defaults to 10s.
	ExchangeTimeout time.Duration
	// Logger defaults to a nop logger.
	Logger zerolog.Logger
	// Observer defaults to [NopObserver].
	Observer Observer
}

// Coordinator is the refresh-coordinating http.RoundTripper.
type Coordinator struct {
	base            http.RoundTripper
	source          CredentialSource
	refreshURL      string
	exchangeTimeout time.Duration
	log             zerolog.Logger
	observer        Observer

	mu       sync.Mutex
	inflight bool
	waiters  []chan outcome
	epoch    uint64
	closed   bool
}

// outcome is the settled result of one refresh exchange, delivered to the
// initiator and every queued waiter. All of them see the same error value.
type outcome struct {
	credential string
	err        error
}

// New creates a Coordinator. Source and RefreshURL are required.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Source == nil {
		return nil, errors.New("credential source required")
	}
	if cfg.RefreshURL == "" {
		return nil, errors.New("refresh url required")
	}
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	return &Coordinator{
		base:            cfg.Base,
		source:          cfg.Source,
		refreshURL:      cfg.RefreshURL,
		exchangeTimeout: cfg.ExchangeTimeout,
		log:             cfg.Logger,
		observer:        cfg.Observer,
	}, nil
}

type exemptContextKey struct{}

// WithoutAuth marks a request as not requiring authentication. Exempt
// requests get no bearer header, never trigger a refresh exchange, and are
// never queued, even when they come back 401 or 403.
func WithoutAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, exemptContextKey{}, true)
}

func isExempt(ctx context.Context) bool {
	v, _ := ctx.Value(exemptContextKey{}).(bool)
	return v
}

// envelope carries per-call retry state. The caller's request is never
// mutated; retries are tracked here and issued on clones.
type envelope struct {
	id      string
	attempt int
}

// RoundTrip implements http.RoundTripper.
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	exempt := isExempt(req.Context())
	env := envelope{id: uuid.NewString()}

	attempt := cloneRequest(req, req.Body, exempt, c.credentialFor(req))

	resp, err := c.base.RoundTrip(attempt)
	if err != nil {
		// Transient network failure: surfaced as-is, never a refresh
		// trigger and never a session-state change.
		return nil, err
	}
	if exempt || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	env.attempt++
	c.log.Debug().
		Str("request_id", env.id).
		Str("url", req.URL.Path).
		Msg("unauthorized response, entering refresh path")

	fresh, exchangeErr := c.awaitExchange(req.Context())
	if exchangeErr != nil {
		if errors.Is(exchangeErr, context.Canceled) ||
			errors.Is(exchangeErr, context.DeadlineExceeded) ||
			errors.Is(exchangeErr, ErrClosed) {
			drainBody(resp)
			return nil, exchangeErr
		}
		// Exchange failures are handled by the session layer through the
		// observer; this call site only sees its original failed response.
		return resp, nil
	}

	body, replayable := retryBody(req)
	if !replayable {
		// The consumed body cannot be replayed, so the renewed credential
		// cannot help this particular call; hand back its original 401.
		return resp, nil
	}
	drainBody(resp)

	retry := cloneRequest(req, body, false, fresh)

	c.log.Debug().
		Str("request_id", env.id).
		Int("attempt", env.attempt).
		Msg("replaying request with renewed credential")

	return c.base.RoundTrip(retry)
}

// Refresh runs (or joins) a refresh exchange outside of any request, used by
// the session manager to renew a stale credential during bootstrap. The
// single-flight invariant applies exactly as for request-triggered
// exchanges.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	return c.awaitExchange(ctx)
}

// awaitExchange returns the credential produced by the current or a newly
// started exchange. The in-flight flag is taken under the mutex before any
// suspension point, so concurrent callers either join the queue or observe
// the settled result; exactly one of them performs the exchange.
func (c *Coordinator) awaitExchange(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.inflight {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		c.observer.WaiterJoined()
		select {
		case out := <-ch:
			return out.credential, out.err
		case <-ctx.Done():
			// The waiter slot stays queued; settle finds a buffered
			// channel nobody reads, which is fine.
			return "", ctx.Err()
		}
	}
	c.inflight = true
	epoch := c.epoch
	c.mu.Unlock()

	c.observer.ExchangeStarted()
	start := time.Now()
	out := c.exchange(epoch)
	if out.err != nil {
		c.observer.ExchangeFailed(out.err)
	} else {
		c.observer.ExchangeSucceeded(out.credential, time.Since(start))
	}
	c.settle(out)

	return out.credential, out.err
}

// settle resumes every queued waiter in FIFO join order with the single
// outcome this exchange produced, then clears the in-flight flag.
func (c *Coordinator) settle(out outcome) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inflight = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- out
	}
}

type exchangeRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// exchange performs one refresh-capability exchange under the bounded
// timeout. It runs on a context detached from the initiating request so a
// cancelled initiator does not abort an exchange other waiters depend on.
func (c *Coordinator) exchange(epoch uint64) outcome {
	ctx, cancel := context.WithTimeout(context.Background(), c.exchangeTimeout)
	defer cancel()

	capability, ok := c.source.RefreshCapability(ctx)
	if !ok {
		return outcome{err: ErrNoRefreshCapability}
	}

	payload, err := json.Marshal(exchangeRequest{RefreshToken: capability})
	if err != nil {
		return outcome{err: fmt.Errorf("encode exchange request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(payload))
	if err != nil {
		return outcome{err: fmt.Errorf("build exchange request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	// Straight through the base transport: the exchange call itself must
	// never re-enter the refresh path.
	resp, err := c.base.RoundTrip(req)
	if err != nil {
		return outcome{err: fmt.Errorf("refresh exchange: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return outcome{err: fmt.Errorf("%w: status %d: %s", ErrExchangeRejected, resp.StatusCode, bytes.TrimSpace(detail))}
	}

	var token exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return outcome{err: fmt.Errorf("%w: malformed response: %v", ErrExchangeRejected, err)}
	}
	if token.AccessToken == "" {
		return outcome{err: fmt.Errorf("%w: response carried no credential", ErrExchangeRejected)}
	}

	// A teardown that raced this exchange wins: do not resurrect a cleared
	// session with the exchanged credential.
	c.mu.Lock()
	stale := c.epoch != epoch || c.closed
	c.mu.Unlock()
	if stale {
		return outcome{err: ErrClosed}
	}

	c.source.SetSession(ctx, token.AccessToken, token.RefreshToken)
	return outcome{credential: token.AccessToken}
}

// Reset rejects every queued waiter immediately with [ErrClosed] and
// invalidates any in-flight exchange. Called on logout; the coordinator
// stays usable for the next session.
func (c *Coordinator) Reset() {
	c.abort(false)
}

// Close is Reset plus a terminal flag: all future refresh attempts fail
// with [ErrClosed].
func (c *Coordinator) Close() {
	c.abort(true)
}

func (c *Coordinator) abort(terminal bool) {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.epoch++
	if terminal {
		c.closed = true
	}
	c.mu.Unlock()

	out := outcome{err: ErrClosed}
	for _, ch := range waiters {
		ch <- out
	}
}

func (c *Coordinator) credentialFor(req *http.Request) string {
	if isExempt(req.Context()) {
		return ""
	}
	cred, _ := c.source.Credential(req.Context())
	return cred
}

// cloneRequest builds the request actually sent for one attempt. The
// caller's request is left untouched.
func cloneRequest(req *http.Request, body io.ReadCloser, exempt bool, credential string) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = body
	if !exempt && credential != "" {
		clone.Header.Set("Authorization", "Bearer "+credential)
	}
	return clone
}

// retryBody produces a fresh body for the retry attempt. Requests without a
// body are always replayable; requests with one need GetBody, which net/http
// fills in for the common buffer-backed bodies.
func retryBody(req *http.Request) (io.ReadCloser, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Body, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	return body, true
}

func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
