package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type CommonHTTP struct {
	Timeout         time.Duration `yaml:"timeout"`
	UserAgent       string        `yaml:"user_agent"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"` // one endpoint, so this is also the per-host cap
}

type SourceConfig struct {
	Endpoint    string     `yaml:"endpoint"`     // GraphQL endpoint
	Limit       int        `yaml:"limit"`        // most recent N activities
	ExcludeKind string     `yaml:"exclude_kind"` // never announced, filtered at the source
	HTTP        CommonHTTP `yaml:"http"`
}

type StoreConfig struct {
	Type string `yaml:"type"` // json | leveldb
	Path string `yaml:"path"` // file for json, directory for leveldb
}

type RelayConfig struct {
	URLs           []string      `yaml:"urls"`
	MinAcks        int           `yaml:"min_acks"`        // relays that must accept a note
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // per relay dial
	PublishTimeout time.Duration `yaml:"publish_timeout"` // per announcement, all relays
	SubscribeEcho  bool          `yaml:"subscribe_echo"`  // log the relay echo of our notes
	RatePerSecond  float64       `yaml:"rate_per_second"` // e.g. 1.0 = 1 note/sec
	Burst          int           `yaml:"burst"`
}

type RenderConfig struct {
	MediaBaseURL string `yaml:"media_base_url"` // prefix for artwork.filename
	LinkBase     string `yaml:"link_base"`      // prefix for artwork.slug
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	FetchPolicy string        `yaml:"fetch_policy"` // fatal | retry
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

type MetricsConfig struct {
	ListenAddress string `yaml:"listen_address"` // empty disables the HTTP server
}

type Config struct {
	Source   SourceConfig  `yaml:"source"`
	Store    StoreConfig   `yaml:"store"`
	Relay    RelayConfig   `yaml:"relay"`
	Render   RenderConfig  `yaml:"render"`
	Poll     PollConfig    `yaml:"poll"`
	Metrics  MetricsConfig `yaml:"metrics"`
	ErrorLog string        `yaml:"error_log"`
}

const (
	FetchFatal = "fatal"
	FetchRetry = "retry"

	StoreJSON    = "json"
	StoreLevelDB = "leveldb"
)

// Default returns a config populated with the built-in defaults.
func Default() *Config {
	c := &Config{Relay: RelayConfig{SubscribeEcho: true}}
	c.applyDefaults()
	return c
}

// Load reads a YAML config. A missing file is not an error: the defaults are
// enough to run against the public endpoints.
func Load(path string) (*Config, error) {
	c := &Config{Relay: RelayConfig{SubscribeEcho: true}}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// WithDefaults returns h with every unset field filled in.
func (h CommonHTTP) WithDefaults() CommonHTTP {
	h.applyDefaults()
	return h
}

func (h *CommonHTTP) applyDefaults() {
	if h.Timeout == 0 {
		h.Timeout = 15 * time.Second
	}
	if h.DialTimeout == 0 {
		h.DialTimeout = 5 * time.Second
	}
	if h.IdleConnTimeout == 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 2
	}
}

func (c *Config) applyDefaults() {
	if c.Source.Endpoint == "" {
		c.Source.Endpoint = "https://raretoshi.com/api/v1/graphql"
	}
	if c.Source.Limit <= 0 {
		c.Source.Limit = 20
	}
	if c.Source.ExcludeKind == "" {
		c.Source.ExcludeKind = "royalty"
	}
	c.Source.HTTP.applyDefaults()
	if c.Store.Type == "" {
		c.Store.Type = StoreJSON
	}
	if c.Store.Path == "" {
		if c.Store.Type == StoreLevelDB {
			c.Store.Path = "processed-activity-ids.db"
		} else {
			c.Store.Path = "processed-activity-ids.json"
		}
	}
	if len(c.Relay.URLs) == 0 {
		c.Relay.URLs = []string{"wss://relay.damus.io"}
	}
	if c.Relay.MinAcks <= 0 {
		c.Relay.MinAcks = 1
	}
	if c.Relay.ConnectTimeout == 0 {
		c.Relay.ConnectTimeout = 10 * time.Second
	}
	if c.Relay.PublishTimeout == 0 {
		c.Relay.PublishTimeout = 30 * time.Second
	}
	if c.Relay.Burst <= 0 {
		c.Relay.Burst = 1
	}
	if c.Render.MediaBaseURL == "" {
		c.Render.MediaBaseURL = "https://raretoshi.com/api/ipfs/"
	}
	if c.Render.LinkBase == "" {
		c.Render.LinkBase = "raretoshi.com/a/"
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 60 * time.Second
	}
	if c.Poll.FetchPolicy == "" {
		c.Poll.FetchPolicy = FetchFatal
	}
	if c.Poll.MaxRetries <= 0 {
		c.Poll.MaxRetries = 3
	}
	if c.Poll.Backoff == 0 {
		c.Poll.Backoff = 2 * time.Second
	}
	if c.Poll.MaxBackoff == 0 {
		c.Poll.MaxBackoff = 30 * time.Second
	}
	if c.ErrorLog == "" {
		c.ErrorLog = "error-logs.txt"
	}
}

func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreJSON, StoreLevelDB:
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
	switch c.Poll.FetchPolicy {
	case FetchFatal, FetchRetry:
	default:
		return fmt.Errorf("unknown fetch policy: %s", c.Poll.FetchPolicy)
	}
	for _, u := range c.Relay.URLs {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("relay url %q: need ws:// or wss://", u)
		}
	}
	if c.Relay.MinAcks > len(c.Relay.URLs) {
		return fmt.Errorf("relay.min_acks=%d exceeds %d configured relay(s)", c.Relay.MinAcks, len(c.Relay.URLs))
	}
	if c.Poll.Interval < 0 {
		return errors.New("poll.interval must be positive")
	}
	return nil
}
