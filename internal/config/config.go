package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"heartsync/pkg/utils"
)

// Defaults for the recognized options. MaxAttempts and the backoff table
// are fixed by the reconciler and intentionally not configurable.
const (
	DefaultDBPath         = "heartsync.db"
	DefaultListenAddr     = ":8080"
	DefaultBufferMinutes  = 15
	DefaultTickPeriod     = 5 * time.Minute
	DefaultSessionMinutes = 20
	DefaultTokenURL       = "https://oauth2.googleapis.com/token"
	DefaultProviderURL    = "https://www.googleapis.com/fitness/v1"
)

// Config holds process-level options, loaded from an optional YAML file
// with environment variable overrides.
type Config struct {
	DBPath         string `yaml:"db_path"`
	ListenAddr     string `yaml:"listen_addr"`
	BufferMinutes  int    `yaml:"fetch_buffer_minutes"`
	TickPeriod     string `yaml:"tick_period"`
	SessionMinutes int    `yaml:"session_default_minutes"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	TokenURL       string `yaml:"token_url"`
	ProviderURL    string `yaml:"provider_url"`
}

// Load reads the YAML file at path when it exists, then applies environment
// overrides and fills defaults. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	overrideString(&cfg.DBPath, "HEARTSYNC_DB")
	overrideString(&cfg.ListenAddr, "HEARTSYNC_ADDR")
	overrideInt(&cfg.BufferMinutes, "FETCH_BUFFER_MINUTES")
	overrideString(&cfg.TickPeriod, "SYNC_TICK_PERIOD")
	overrideInt(&cfg.SessionMinutes, "SESSION_DEFAULT_MINUTES")
	overrideString(&cfg.ClientID, "GOOGLE_CLIENT_ID")
	overrideString(&cfg.ClientSecret, "GOOGLE_CLIENT_SECRET")
	overrideString(&cfg.TokenURL, "OAUTH_TOKEN_URL")
	overrideString(&cfg.ProviderURL, "FITNESS_API_URL")

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.BufferMinutes <= 0 {
		cfg.BufferMinutes = DefaultBufferMinutes
	}
	if cfg.SessionMinutes <= 0 {
		cfg.SessionMinutes = DefaultSessionMinutes
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.ProviderURL == "" {
		cfg.ProviderURL = DefaultProviderURL
	}
	return cfg, nil
}

// Buffer returns the fetch window padding applied on each side of a session.
func (c Config) Buffer() time.Duration {
	return time.Duration(c.BufferMinutes) * time.Minute
}

// Tick returns the scheduler period.
func (c Config) Tick() time.Duration {
	return utils.ParseDuration(c.TickPeriod, DefaultTickPeriod)
}

// SessionDuration returns the default session length used when a create
// request does not specify one.
func (c Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionMinutes) * time.Minute
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			*dst = n
		}
	}
}
