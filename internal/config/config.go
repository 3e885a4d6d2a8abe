// Package config provides configuration management with hot-reload support
// for the gateway core, generalized from the teacher's provider-routing
// Config into the Store/KeyPool/Gate/Upstream/Analytics surface this
// gateway actually has (spec §6, SPEC_FULL's NEW CONFIGURATION OPTIONS).
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates, same as the teacher.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nullbridge/llmgate/pkg/provider"
)

// Config is the complete gateway configuration (spec §6's table, plus
// SPEC_FULL's additive options).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	KeyPool   KeyPoolConfig   `yaml:"keypool"`
	Gate      GateConfig      `yaml:"gate"`
	Database  DatabaseConfig  `yaml:"database"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig is spec §6's UPSTREAM_BASE_URL/UPSTREAM_PROXY_URL plus the
// Upstream Client tunables from §4.4.
type UpstreamConfig struct {
	BaseURL              string        `yaml:"base_url"`
	ProxyURL             string        `yaml:"proxy_url"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	StreamIdleTimeout    time.Duration `yaml:"stream_idle_timeout"`
	RebuildThreshold     int           `yaml:"rebuild_threshold"`
	AllowPrivateUpstream bool          `yaml:"allow_private_upstream"` // permits loopback/private hosts, e.g. for local dev
}

// KeyPoolConfig is spec §6's cooldown/backoff/sweep tunables (§4.2).
type KeyPoolConfig struct {
	AcquireTimeout       time.Duration `yaml:"acquire_timeout"`
	BaseCooldown         time.Duration `yaml:"base_cooldown"`
	MaxCooldown          time.Duration `yaml:"max_cooldown"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	RateLimitDefaultWait time.Duration `yaml:"rate_limit_default_wait"`
	StuckTimeout         time.Duration `yaml:"stuck_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
}

// GateConfig is spec §6's MAX_CONCURRENT_UPSTREAM (§4.3).
type GateConfig struct {
	MaxConcurrentUpstream int `yaml:"max_concurrent_upstream"`
}

// DatabaseConfig selects and configures the Store backend (SPEC_FULL's
// DATABASE_TYPE/SQLITE_PATH/POSTGRES_DSN).
type DatabaseConfig struct {
	Type        string `yaml:"type"` // "sqlite" (default) or "postgres"
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AnalyticsConfig is SPEC_FULL's STATS_CACHE_TTL/SUCCESS_RATE_HOURLY_DAYS
// plus the optional Redis L2 cache tier.
type AnalyticsConfig struct {
	CacheTTL              time.Duration `yaml:"cache_ttl"`
	SuccessRateHourlyDays int           `yaml:"success_rate_hourly_days"`
	RedisAddr             string        `yaml:"redis_addr"` // empty disables the L2 tier
}

// AdminConfig is spec §6's SECRET_KEY/PASSWORD plus SPEC_FULL's
// ADMIN_JWT_PUBLIC_KEY (verification only, not issuance).
type AdminConfig struct {
	SecretKey    string `yaml:"secret_key"`
	Password     string `yaml:"password"`
	JWTPublicKey string `yaml:"jwt_public_key"`
}

// LoggingConfig mirrors the teacher's logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns a configuration with sensible defaults (spec §6's
// defaults where stated, otherwise production-reasonable values).
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			RequestTimeout:    60 * time.Second,
			StreamIdleTimeout: 30 * time.Second,
			RebuildThreshold:  5,
		},
		KeyPool: KeyPoolConfig{
			AcquireTimeout:       10 * time.Second,
			BaseCooldown:         30 * time.Second,
			MaxCooldown:          30 * time.Minute,
			FailureThreshold:     3,
			RateLimitDefaultWait: 60 * time.Second,
			StuckTimeout:         5 * time.Minute,
			SweepInterval:        30 * time.Second,
		},
		Gate: GateConfig{
			MaxConcurrentUpstream: 64,
		},
		Database: DatabaseConfig{
			Type:       "sqlite",
			SQLitePath: "gateway.db",
		},
		Analytics: AnalyticsConfig{
			CacheTTL:              30 * time.Second,
			SuccessRateHourlyDays: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file, expanding
// ${VAR_NAME} environment references the same way the teacher does.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for the internal consistency spec §6
// and §4's per-component invariants require.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if err := provider.ValidateBaseURL(c.Upstream.BaseURL, c.Upstream.AllowPrivateUpstream); err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if c.Gate.MaxConcurrentUpstream <= 0 {
		return fmt.Errorf("gate.max_concurrent_upstream must be positive")
	}
	if c.KeyPool.FailureThreshold <= 0 {
		return fmt.Errorf("keypool.failure_threshold must be positive")
	}
	if c.KeyPool.BaseCooldown <= 0 || c.KeyPool.MaxCooldown <= 0 {
		return fmt.Errorf("keypool.base_cooldown and keypool.max_cooldown must be positive")
	}
	if c.KeyPool.MaxCooldown < c.KeyPool.BaseCooldown {
		return fmt.Errorf("keypool.max_cooldown cannot be less than keypool.base_cooldown")
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required when database.type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgres_dsn is required when database.type is postgres")
		}
	default:
		return fmt.Errorf("database.type must be \"sqlite\" or \"postgres\", got %q", c.Database.Type)
	}
	return nil
}
