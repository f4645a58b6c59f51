// Package config loads tap settings from defaults, an optional YAML/JSON
// file, TAP_MESSAGEBIRD_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/client"
	"github.com/Sternrassler/tap-messagebird/pkg/logging"
	"github.com/Sternrassler/tap-messagebird/pkg/pagination"
	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "TAP_MESSAGEBIRD"

// DefaultLookback is how far back a first sync reaches without start_date.
const DefaultLookback = 3 * 365 * 24 * time.Hour

// ErrMissingAPIKey is returned by Validate when no API key is configured.
var ErrMissingAPIKey = errors.New("api_key is required (set TAP_MESSAGEBIRD_API_KEY)")

type Config struct {
	APIKey    string   `mapstructure:"api_key"`
	StartDate string   `mapstructure:"start_date"`
	UserAgent string   `mapstructure:"user_agent"`
	Streams   []string `mapstructure:"streams"`

	API     APIConfig     `mapstructure:"api"`
	Sync    SyncConfig    `mapstructure:"sync"`
	State   StateConfig   `mapstructure:"state"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type APIConfig struct {
	ConversationsBaseURL string        `mapstructure:"conversations_base_url"`
	RESTBaseURL          string        `mapstructure:"rest_base_url"`
	Timeout              time.Duration `mapstructure:"timeout"`
	RateLimit            float64       `mapstructure:"rate_limit"`
	Burst                int           `mapstructure:"burst"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
}

type SyncConfig struct {
	ChildWorkers int            `mapstructure:"child_workers"`
	EarlyStop    bool           `mapstructure:"early_stop"`
	PageSizes    map[string]int `mapstructure:"page_sizes"`
}

type StateConfig struct {
	Backend  string         `mapstructure:"backend"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type DaemonConfig struct {
	Schedule   string `mapstructure:"schedule"`
	Addr       string `mapstructure:"addr"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// flagKeys maps config keys to the CLI flags that override them.
var flagKeys = map[string]string{
	"api_key":         "api-key",
	"start_date":      "start-date",
	"streams":         "stream",
	"state.backend":   "state-backend",
	"state.path":      "state-path",
	"logging.level":   "log-level",
	"logging.pretty":  "pretty",
	"daemon.schedule": "schedule",
	"daemon.addr":     "addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("start_date", "")
	v.SetDefault("user_agent", "tap-messagebird/0.1.0")
	v.SetDefault("streams", []string{})
	v.SetDefault("api.conversations_base_url", "")
	v.SetDefault("api.rest_base_url", "")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.burst", 10)
	v.SetDefault("api.max_attempts", 0)
	v.SetDefault("sync.child_workers", 4)
	v.SetDefault("sync.early_stop", true)
	v.SetDefault("state.backend", string(state.BackendFile))
	v.SetDefault("state.path", "state.json")
	v.SetDefault("state.redis.addr", "localhost:6379")
	v.SetDefault("state.redis.password", "")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.redis.prefix", state.DefaultRedisPrefix)
	v.SetDefault("state.postgres.dsn", "")
	v.SetDefault("daemon.schedule", "@every 1h")
	v.SetDefault("daemon.addr", ":9090")
	v.SetDefault("daemon.run_on_start", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", false)
}

// Load reads the configuration. configPath may be empty; flags may be nil.
// Only flags the user actually set override other sources.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if _, err := c.StartTime(time.Now()); err != nil {
		return err
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be >= 0 (got %g)", c.API.RateLimit)
	}
	if c.Sync.ChildWorkers < 1 {
		return fmt.Errorf("sync.child_workers must be >= 1 (got %d)", c.Sync.ChildWorkers)
	}
	for name, size := range c.Sync.PageSizes {
		if size <= 0 {
			return fmt.Errorf("sync.page_sizes.%s must be positive (got %d)", name, size)
		}
	}
	for _, u := range []string{c.API.ConversationsBaseURL, c.API.RESTBaseURL} {
		if u == "" {
			continue
		}
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid base url %q", u)
		}
	}

	switch state.Backend(c.State.Backend) {
	case state.BackendMemory:
	case state.BackendFile, state.BackendSQLite:
		if c.State.Path == "" {
			return fmt.Errorf("state.path is required for the %s backend", c.State.Backend)
		}
	case state.BackendRedis:
		if c.State.Redis.Addr == "" {
			return errors.New("state.redis.addr is required for the redis backend")
		}
	case state.BackendPostgres:
		if c.State.Postgres.DSN == "" {
			return errors.New("state.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown state.backend %q", c.State.Backend)
	}
	return nil
}

// StartTime parses start_date; an empty value means now minus DefaultLookback.
func (c *Config) StartTime(now time.Time) (time.Time, error) {
	if c.StartDate == "" {
		return now.Add(-DefaultLookback).UTC(), nil
	}
	ts, err := pagination.ParseTimestamp(c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_date %q: %w", c.StartDate, err)
	}
	return ts.UTC(), nil
}

// ClientConfig returns the page fetcher configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.APIKey)
	cfg.UserAgent = c.UserAgent
	cfg.Timeout = c.API.Timeout
	cfg.RateLimit = c.API.RateLimit
	cfg.Burst = c.API.Burst
	cfg.MaxAttempts = c.API.MaxAttempts
	return cfg
}

// StateConfig returns the bookmark backend configuration.
func (c *Config) StateConfig() state.Config {
	return state.Config{
		Backend:       state.Backend(c.State.Backend),
		Path:          c.State.Path,
		RedisAddr:     c.State.Redis.Addr,
		RedisPassword: c.State.Redis.Password,
		RedisDB:       c.State.Redis.DB,
		RedisPrefix:   c.State.Redis.Prefix,
		PostgresDSN:   c.State.Postgres.DSN,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

const redacted = "REDACTED"

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = redacted
	}
	if c.State.Redis.Password != "" {
		c.State.Redis.Password = redacted
	}
	if c.State.Postgres.DSN != "" {
		c.State.Postgres.DSN = redactDSN(c.State.Postgres.DSN)
	}
	return c
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		// key=value form; drop it entirely rather than parse it
		if strings.Contains(dsn, "password") {
			return redacted
		}
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
