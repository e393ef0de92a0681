package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource is an in-memory CredentialSource.
type fakeSource struct {
	mu         sync.Mutex
	cred       string
	capability string
	setCalls   int
}

func (f *fakeSource) Credential(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, f.cred != ""
}

func (f *fakeSource) RefreshCapability(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capability, f.capability != ""
}

func (f *fakeSource) SetSession(_ context.Context, credential, capability string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.cred = credential
	if capability != "" {
		f.capability = capability
	}
}

// recordingObserver counts lifecycle callbacks.
type recordingObserver struct {
	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	joined    atomic.Int64
	lastErr   atomic.Value
}

func (r *recordingObserver) ExchangeStarted() { r.started.Add(1) }
func (r *recordingObserver) ExchangeSucceeded(string, time.Duration) {
	r.succeeded.Add(1)
}
func (r *recordingObserver) ExchangeFailed(err error) {
	r.failed.Add(1)
	r.lastErr.Store(err)
}
func (r *recordingObserver) WaiterJoined() { r.joined.Add(1) }

// backend is a stub auth backend: /refresh exchanges cap-1 for cred-2, and
// /protected accepts only cred-2.
type backend struct {
	refreshCalls   atomic.Int64
	protectedCalls atomic.Int64
	refreshDelay   time.Duration
	refreshStatus  int // 0 means 200
	hold           chan struct{}
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		if b.hold != nil {
			<-b.hold
		}
		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if b.refreshStatus != 0 {
			w.WriteHeader(b.refreshStatus)
			_, _ = w.Write([]byte(`{"code":"refresh_rejected"}`))
			return
		}
		if body.RefreshToken != "cap-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "cred-2",
			"refresh_token": "cap-2",
		})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		b.protectedCalls.Add(1)
		if r.Header.Get("Authorization") != "Bearer cred-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func newTestCoordinator(t *testing.T, b *backend, src *fakeSource, obs Observer) (*Coordinator, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	coord, err := New(Config{
		Source:          src,
		RefreshURL:      srv.URL + "/refresh",
		ExchangeTimeout: 5 * time.Second,
		Observer:        obs,
	})
	if err != nil {
		t.Fatalf("coordinator build failed: %v", err)
	}
	return coord, srv
}

func TestSingleFlightUnderConcurrentFailures(t *testing.T) {
	b := &backend{refreshDelay: 50 * time.Millisecond}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	obs := &recordingObserver{}
	coord, srv := newTestCoordinator(t, b, src, obs)

	client := &http.Client{Transport: coord}

	const n = 8
	var wg sync.WaitGroup
	statuses := make([]int, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/protected")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh endpoint hit %d times, want exactly 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, statuses[i])
		}
	}
	if got := obs.started.Load(); got != 1 {
		t.Errorf("exchanges started = %d, want 1", got)
	}
	if got := obs.succeeded.Load(); got != 1 {
		t.Errorf("exchanges succeeded = %d, want 1", got)
	}
	if src.cred != "cred-2" || src.capability != "cap-2" {
		t.Errorf("source after exchange = (%q, %q)", src.cred, src.capability)
	}
}

func TestStaleCredentialTwoCallersOneExchange(t *testing.T) {
	// Credential expired 10s ago, two components fire at the same tick.
	// One exchange, both calls end 200 with the new bearer.
	b := &backend{refreshDelay: 20 * time.Millisecond}
	src := &fakeSource{cred: "cred-expired-10s-ago", capability: "cap-1"}
	coord, srv := newTestCoordinator(t, b, src, nil)
	client := &http.Client{Transport: coord}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/protected")
			if err != nil {
				t.Errorf("request failed: %v", err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestNoAuthBypass(t *testing.T) {
	b := &backend{}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, srv := newTestCoordinator(t, b, src, nil)
	client := &http.Client{Transport: coord}

	req, err := http.NewRequestWithContext(WithoutAuth(context.Background()),
		http.MethodGet, srv.URL+"/protected", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want the raw 401", resp.StatusCode)
	}
	if got := b.refreshCalls.Load(); got != 0 {
		t.Fatalf("exempt 401 triggered %d refresh calls", got)
	}
}

func TestRequestRetriedAtMostOnce(t *testing.T) {
	// The protected endpoint rejects everything; the renewed credential
	// must be tried exactly once, then the failure sticks.
	mux := http.NewServeMux()
	var refreshCalls, protectedCalls atomic.Int64
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshCalls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "cred-2"})
	})
	mux.HandleFunc("/protected", func(w http.ResponseWriter, _ *http.Request) {
		protectedCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, err := New(Config{Source: src, RefreshURL: srv.URL + "/refresh"})
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: coord}

	resp, err := client.Get(srv.URL + "/protected")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := protectedCalls.Load(); got != 2 {
		t.Fatalf("protected calls = %d, want original + one retry", got)
	}
}

func TestExchangeFailureDrainsAllWaitersWithSameError(t *testing.T) {
	b := &backend{refreshDelay: 30 * time.Millisecond, refreshStatus: http.StatusBadRequest}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	obs := &recordingObserver{}
	coord, srv := newTestCoordinator(t, b, src, obs)
	client := &http.Client{Transport: coord}

	const n = 3
	var wg sync.WaitGroup
	statuses := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/protected")
			if err != nil {
				t.Errorf("request %d errored: %v", i, err)
				return
			}
			defer resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	for i, status := range statuses {
		if status != http.StatusUnauthorized {
			t.Errorf("request %d status = %d, want its original 401", i, status)
		}
	}
	if got := obs.failed.Load(); got != 1 {
		t.Fatalf("terminal failure reported %d times, want 1", got)
	}
	err, _ := obs.lastErr.Load().(error)
	if !errors.Is(err, ErrExchangeRejected) {
		t.Fatalf("terminal error = %v, want ErrExchangeRejected", err)
	}
	if src.setCalls != 0 {
		t.Fatalf("failed exchange persisted a session (%d set calls)", src.setCalls)
	}
}

func TestResetRejectsQueuedWaiters(t *testing.T) {
	hold := make(chan struct{})
	b := &backend{hold: hold}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, srv := newTestCoordinator(t, b, src, nil)
	client := &http.Client{Transport: coord}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := client.Get(srv.URL + "/protected")
			results <- err
		}()
	}

	// Let both calls reach the refresh path: one initiates and blocks on
	// the held handler, the other queues.
	waitFor(t, func() bool { return b.refreshCalls.Load() == 1 })
	coord.Reset()
	close(hold)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("request %d error = %v, want ErrClosed", i, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("request left hanging after Reset")
		}
	}

	if src.setCalls != 0 {
		t.Fatal("exchange settled after Reset still persisted a session")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	b := &backend{}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, _ := newTestCoordinator(t, b, src, nil)

	coord.Close()
	if _, err := coord.Refresh(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Refresh after Close = %v, want ErrClosed", err)
	}
}

func TestQueuedWaiterCancellation(t *testing.T) {
	hold := make(chan struct{})
	b := &backend{hold: hold}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, srv := newTestCoordinator(t, b, src, nil)
	client := &http.Client{Transport: coord}

	initiatorDone := make(chan struct{})
	go func() {
		defer close(initiatorDone)
		resp, err := client.Get(srv.URL + "/protected")
		if err == nil {
			resp.Body.Close()
		}
	}()
	waitFor(t, func() bool { return b.refreshCalls.Load() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/protected", nil)
		_, err := client.Do(req)
		waiterDone <- err
	}()

	// Give the waiter time to join the queue, then abandon it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-waiterDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled waiter error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled waiter left hanging")
	}

	// Settling into the abandoned waiter's buffered channel must not hang
	// the initiator.
	close(hold)
	select {
	case <-initiatorDone:
	case <-time.After(5 * time.Second):
		t.Fatal("initiator hung after waiter cancellation")
	}
}

func TestRefreshWithoutCapability(t *testing.T) {
	b := &backend{}
	src := &fakeSource{cred: "cred-stale"}
	coord, _ := newTestCoordinator(t, b, src, nil)

	if _, err := coord.Refresh(context.Background()); !errors.Is(err, ErrNoRefreshCapability) {
		t.Fatalf("Refresh = %v, want ErrNoRefreshCapability", err)
	}
	if got := b.refreshCalls.Load(); got != 0 {
		t.Fatalf("refresh endpoint called %d times without a capability", got)
	}
}

func TestBootstrapStyleRefresh(t *testing.T) {
	b := &backend{}
	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, _ := newTestCoordinator(t, b, src, nil)

	cred, err := coord.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if cred != "cred-2" {
		t.Fatalf("Refresh credential = %q", cred)
	}
	if src.cred != "cred-2" || src.capability != "cap-2" {
		t.Fatalf("source after refresh = (%q, %q)", src.cred, src.capability)
	}
}

func TestPostBodyReplayedOnRetry(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "cred-2"})
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(raw))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer cred-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := &fakeSource{cred: "cred-stale", capability: "cap-1"}
	coord, err := New(Config{Source: src, RefreshURL: srv.URL + "/refresh"})
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: coord}

	resp, err := client.Post(srv.URL+"/orders", "application/json",
		strings.NewReader(`{"table":4,"dish":"arroz"}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != `{"table":4,"dish":"arroz"}` {
		t.Fatalf("bodies = %q, want the same payload twice", bodies)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within 5s")
}
