package sessionkit

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds all tunables for the session manager. Zero values are
// filled from [DefaultConfig] during Build, so callers only set what they
// need to change.
type Config struct {
	Endpoints EndpointConfig
	HTTP      HTTPConfig
	Storage   StorageConfig
	Events    EventConfig
	Metrics   MetricsConfig
}

// EndpointConfig names the three server endpoints the session manager
// talks to. AuthURL and RefreshURL are mandatory; ProfileURL is optional
// and only used for cosmetic enrichment after an external login.
type EndpointConfig struct {
	AuthURL    string
	RefreshURL string
	ProfileURL string
}

// HTTPConfig bounds the manager's own network calls. It never constrains
// the caller's requests going through the transport; those carry their
// own contexts.
type HTTPConfig struct {
	RequestTimeout  time.Duration
	ExchangeTimeout time.Duration
}

// StorageConfig sets the keys the credential and refresh capability are
// persisted under. Distinct prefixes let multiple managers share one
// backing store.
type StorageConfig struct {
	CredentialKey string
	RefreshKey    string
}

// EventConfig controls the lifecycle event dispatcher.
type EventConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counter and histogram collection.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the configuration Build starts from.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			RequestTimeout:  15 * time.Second,
			ExchangeTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			CredentialKey: "sessionkit:credential",
			RefreshKey:    "sessionkit:refresh",
		},
		Events: EventConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are value types today; the explicit clone keeps the
	// builder contract stable if reference fields are added later.
	return cfg
}

func mergeDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = def.HTTP.RequestTimeout
	}
	if cfg.HTTP.ExchangeTimeout <= 0 {
		cfg.HTTP.ExchangeTimeout = def.HTTP.ExchangeTimeout
	}
	if strings.TrimSpace(cfg.Storage.CredentialKey) == "" {
		cfg.Storage.CredentialKey = def.Storage.CredentialKey
	}
	if strings.TrimSpace(cfg.Storage.RefreshKey) == "" {
		cfg.Storage.RefreshKey = def.Storage.RefreshKey
	}
	if cfg.Events.BufferSize <= 0 {
		cfg.Events.BufferSize = def.Events.BufferSize
	}
	return cfg
}

// Validate rejects configurations that would produce a manager unable to
// authenticate or refresh.
func (c *Config) Validate() error {
	if err := requireURL("endpoints.auth_url", c.Endpoints.AuthURL); err != nil {
		return err
	}
	if err := requireURL("endpoints.refresh_url", c.Endpoints.RefreshURL); err != nil {
		return err
	}
	if c.Endpoints.ProfileURL != "" {
		if err := requireURL("endpoints.profile_url", c.Endpoints.ProfileURL); err != nil {
			return err
		}
	}
	if c.Storage.CredentialKey == c.Storage.RefreshKey {
		return errors.New("config: storage credential and refresh keys must differ")
	}
	return nil
}

func requireURL(name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("config: " + name + " is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("config: " + name + " must be an absolute URL")
	}
	return nil
}
