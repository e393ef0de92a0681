package sessionkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/tableorder/sessionkit/internal/events"
	"github.com/tableorder/sessionkit/store"
	"github.com/tableorder/sessionkit/transport"
)

// Builder assembles a [Manager]. Configure it once during initialization;
// it is not safe for concurrent use and can build only a single Manager.
type Builder struct {
	config Config
	kv     store.KV
	base   http.RoundTripper
	logger zerolog.Logger
	sink   EventSink

	hasLogger bool
	built     bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero fields are filled
// from defaults during Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithEndpoints sets the auth, refresh, and optional profile endpoints.
func (b *Builder) WithEndpoints(authURL, refreshURL, profileURL string) *Builder {
	b.config.Endpoints = EndpointConfig{
		AuthURL:    authURL,
		RefreshURL: refreshURL,
		ProfileURL: profileURL,
	}
	return b
}

// WithKV sets the durable backend the credential store writes through to.
// Defaults to an in-memory store, which means sessions do not survive a
// process restart.
func (b *Builder) WithKV(kv store.KV) *Builder {
	b.kv = kv
	return b
}

// WithBaseTransport sets the transport the coordinator wraps. Defaults to
// http.DefaultTransport.
func (b *Builder) WithBaseTransport(rt http.RoundTripper) *Builder {
	b.base = rt
	return b
}

// WithLogger sets the structured logger. Defaults to a nop logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = log
	b.hasLogger = true
	return b
}

// WithEventSink sets the sink lifecycle events are dispatched to and
// enables eventing.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	b.config.Events.Enabled = sink != nil
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and assembles the Manager.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := mergeDefaults(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.kv == nil {
		b.kv = store.NewMemoryKV()
	}
	if b.base == nil {
		b.base = http.DefaultTransport
	}
	if !b.hasLogger {
		b.logger = zerolog.Nop()
	}

	m := &Manager{
		cfg:      cfg,
		log:      b.logger,
		store:    store.New(b.kv, cfg.Storage.CredentialKey, cfg.Storage.RefreshKey, b.logger),
		metrics:  NewMetrics(cfg.Metrics),
		watchers: make(map[uint64]chan Snapshot),
	}
	m.dispatcher = events.NewDispatcher(events.Config{
		Enabled:    cfg.Events.Enabled,
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, b.sink)

	coord, err := transport.New(transport.Config{
		Base:            b.base,
		Source:          m.store,
		RefreshURL:      cfg.Endpoints.RefreshURL,
		ExchangeTimeout: cfg.HTTP.ExchangeTimeout,
		Logger:          b.logger,
		Observer:        m,
	})
	if err != nil {
		return nil, err
	}
	m.coord = coord
	m.base = b.base

	// UI regions subscribe to the store directly; the event sink gets the
	// cleared notification as well so external consumers see one stream.
	m.store.Subscribe(func(ev store.Event) {
		if ev.Type == store.EventCleared {
			m.emit(context.Background(), Event{Type: EventSessionCleared})
		}
	})

	b.built = true
	return m, nil
}
