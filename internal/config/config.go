// Package config loads the proxy configuration from SW_CACHE_* environment
// variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server and the admin tools need.
type Config struct {
	Listen    string `env:"SW_CACHE_LISTEN" envDefault:":8080"`
	Origin    string `env:"SW_CACHE_ORIGIN" envDefault:"http://localhost:3000"`
	APIOrigin string `env:"SW_CACHE_API_ORIGIN"`
	APIPrefix string `env:"SW_CACHE_API_PREFIX" envDefault:"/api"`

	// Version is the build-time tag baked into partition names.
	Version string `env:"SW_CACHE_VERSION" envDefault:"v1"`

	// Backend selects the partition store: bolt, redis or memory.
	Backend   string `env:"SW_CACHE_BACKEND" envDefault:"bolt"`
	DBPath    string `env:"SW_CACHE_DB"`
	RedisAddr string `env:"SW_CACHE_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"SW_CACHE_REDIS_DB" envDefault:"0"`

	Socket    string `env:"SW_CACHE_SOCK"`
	StateFile string `env:"SW_CACHE_STATE"`

	// MessageToken, when set, must accompany cache-clearing page messages.
	MessageToken string `env:"SW_CACHE_MESSAGE_TOKEN"`

	APIHosts       []string `env:"SW_CACHE_API_HOSTS" envSeparator:","`
	APIPaths       []string `env:"SW_CACHE_API_PATHS" envSeparator:"," envDefault:"/api/"`
	Precache       []string `env:"SW_CACHE_PRECACHE" envSeparator:"," envDefault:"/,/offline,/manifest.json,/icons/icon-192x192.png,/icons/icon-512x512.png"`
	DiscoverAssets bool     `env:"SW_CACHE_DISCOVER_ASSETS" envDefault:"false"`

	RequestTimeout time.Duration `env:"SW_CACHE_REQUEST_TIMEOUT" envDefault:"20s"`
	WriteTimeout   time.Duration `env:"SW_CACHE_WRITE_TIMEOUT" envDefault:"5s"`
	InstallRetry   time.Duration `env:"SW_CACHE_INSTALL_RETRY" envDefault:"30s"`
	VersionPoll    time.Duration `env:"SW_CACHE_VERSION_POLL" envDefault:"5m"`
	MaxEntryBytes  int64         `env:"SW_CACHE_MAX_ENTRY_BYTES" envDefault:"10485760"`

	WarmDepth int           `env:"SW_CACHE_WARM_DEPTH" envDefault:"1"`
	WarmDelay time.Duration `env:"SW_CACHE_WARM_DELAY" envDefault:"250ms"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment, fills path defaults and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cacheDir(), "cache.bbolt")
	}
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocketPath()
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cacheDir(), "version.json")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c Config) Validate() error {
	if _, err := ParseOrigin(c.Origin); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	if c.APIOrigin != "" {
		if _, err := ParseOrigin(c.APIOrigin); err != nil {
			return fmt.Errorf("api origin: %w", err)
		}
		if !strings.HasPrefix(c.APIPrefix, "/") {
			return fmt.Errorf("api prefix %q must start with /", c.APIPrefix)
		}
	}
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("version tag is empty")
	}
	switch c.Backend {
	case "bolt", "redis", "memory":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// ParseOrigin parses an absolute http(s) base URL.
func ParseOrigin(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%q has no host", raw)
	}
	return u, nil
}

// DefaultSocketPath is where the control socket lives when SW_CACHE_SOCK is unset.
func DefaultSocketPath() string {
	if s := os.Getenv("SW_CACHE_SOCK"); s != "" {
		return s
	}
	return filepath.Join(cacheDir(), "control.sock")
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "sw-cache")
}
