// Command sessionkit-probe exercises the refresh coordinator under
// concurrent load against an in-process stub backend.
//
// It seeds a stale credential, fires a burst of concurrent authenticated
// requests, and reports how many refresh exchanges the backend actually
// saw. A healthy run shows exactly one exchange per burst regardless of
// concurrency.
//
// Configuration comes from the environment (PROBE_* variables) with flag
// overrides:
//
//	PROBE_CONCURRENCY  workers per burst (default 64)
//	PROBE_BURSTS       number of bursts (default 5)
//	PROBE_REDIS_ADDR   use a real Redis for session storage; empty runs
//	                   miniredis in-process
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	sessionkit "github.com/tableorder/sessionkit"
	"github.com/tableorder/sessionkit/metrics/export/prometheus"
	"github.com/tableorder/sessionkit/store"
)

type probeConfig struct {
	Concurrency int    `env:"PROBE_CONCURRENCY, default=64"`
	Bursts      int    `env:"PROBE_BURSTS, default=5"`
	RedisAddr   string `env:"PROBE_REDIS_ADDR"`
	Verbose     bool   `env:"PROBE_VERBOSE"`
}

var signingSecret = []byte("probe-secret")

func mint(ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        "probe@example.com",
		"account_id": int64(1),
		"role":       "staff",
		"iat":        time.Now().Unix(),
		"exp":        time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(signingSecret)
}

// stubBackend rejects every credential except the most recently exchanged
// one, so each burst forces exactly one renewal.
type stubBackend struct {
	mu           sync.Mutex
	current      string
	refreshCalls atomic.Int64
}

func (s *stubBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshCalls.Add(1)
		cred, err := mint(time.Hour)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.current = cred
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  cred,
			"refresh_token": "cap-rotated",
		})
	})
	mux.HandleFunc("GET /api/ping", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		if current == "" || r.Header.Get("Authorization") != "Bearer "+current {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "pong")
	})
	return mux
}

// expire invalidates the currently accepted credential, forcing the next
// burst through the refresh path.
func (s *stubBackend) expire() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()
}

func main() {
	ctx := context.Background()

	var cfg probeConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "workers per burst")
	flag.IntVar(&cfg.Bursts, "bursts", cfg.Bursts, "number of bursts")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address; empty runs miniredis")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")
	flag.Parse()

	if cfg.Concurrency <= 0 || cfg.Bursts <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency and bursts must be > 0")
		os.Exit(2)
	}

	level := zerolog.WarnLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	// ---------- storage ----------
	addr := cfg.RedisAddr
	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()
	kv := store.NewRedisKV(client, "probe")

	// ---------- stub backend ----------
	backend := &stubBackend{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	srv := &http.Server{Handler: backend.handler()}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()
	base := "http://" + ln.Addr().String()

	// ---------- seed a stale session ----------
	stale, err := mint(-time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint: %v\n", err)
		os.Exit(1)
	}
	if err := kv.Set(ctx, sessionkit.DefaultConfig().Storage.CredentialKey, stale); err != nil {
		fmt.Fprintf(os.Stderr, "seed credential: %v\n", err)
		os.Exit(1)
	}
	if err := kv.Set(ctx, sessionkit.DefaultConfig().Storage.RefreshKey, "cap-initial"); err != nil {
		fmt.Fprintf(os.Stderr, "seed capability: %v\n", err)
		os.Exit(1)
	}

	manager, err := sessionkit.New().
		WithEndpoints(base+"/auth/login", base+"/auth/refresh", "").
		WithKV(kv).
		WithLogger(logger).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build manager: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	snap, err := manager.Bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("bootstrapped: state=%s subject=%s (refresh calls so far: %d)\n",
		snap.State, snap.Identity.Subject, backend.refreshCalls.Load())

	// ---------- bursts ----------
	httpClient := manager.Client()
	var failures atomic.Int64

	start := time.Now()
	for burst := 0; burst < cfg.Bursts; burst++ {
		backend.expire()
		before := backend.refreshCalls.Load()

		var wg sync.WaitGroup
		for i := 0; i < cfg.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := httpClient.Get(base + "/api/ping")
				if err != nil {
					failures.Add(1)
					return
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					failures.Add(1)
				}
			}()
		}
		wg.Wait()

		exchanges := backend.refreshCalls.Load() - before
		fmt.Printf("burst %d: %d workers, %d exchange(s)\n", burst+1, cfg.Concurrency, exchanges)
	}
	elapsed := time.Since(start)

	total := int64(cfg.Bursts) * int64(cfg.Concurrency)
	fmt.Println("---- results ----")
	fmt.Printf("requests:        %d in %s\n", total, elapsed.Round(time.Millisecond))
	fmt.Printf("failures:        %d\n", failures.Load())
	fmt.Printf("total exchanges: %d (ideal: %d)\n", backend.refreshCalls.Load(), cfg.Bursts)
	fmt.Printf("joined waiters:  %d\n", manager.Metrics().Value(sessionkit.MetricRefreshJoined))
	fmt.Println("---- metrics ----")
	os.Stdout.WriteString(prometheus.NewExporter(manager).Render())

	if failures.Load() > 0 {
		os.Exit(1)
	}
}
