// Package config defines the top-level configuration for the launchpad
// settlement core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LAUNCHPAD_* environment
// variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Chain      ChainConfig      `toml:"chain"`
	S3         S3Config         `toml:"s3"`
	Curve      CurveConfig      `toml:"curve"`
	Graduation GraduationConfig `toml:"graduation"`
	Revenue    RevenueConfig    `toml:"revenue"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ChainConfig holds the external ledger connection and signing parameters.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ContractAddress  string   `toml:"contract_address"`
	ChainID          int64    `toml:"chain_id"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ConfirmTimeout   duration `toml:"confirm_timeout"`
	// Stub replaces the real chain client with an in-process stub. Useful
	// for local development without an RPC endpoint.
	Stub bool `toml:"stub"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CurveConfig holds trade execution policy.
type CurveConfig struct {
	FeeBps        int      `toml:"fee_bps"`
	CreatorFeeBps int      `toml:"creator_fee_bps"`
	LockTTL       duration `toml:"lock_ttl"`
}

// GraduationConfig holds graduation orchestration parameters.
type GraduationConfig struct {
	BatchSize   int      `toml:"batch_size"`
	RewardBps   int      `toml:"reward_bps"`
	LockTTL     duration `toml:"lock_ttl"`
	CallTimeout duration `toml:"call_timeout"`
}

// RevenueConfig holds fee payout parameters.
type RevenueConfig struct {
	PlatformAddress string   `toml:"platform_address"`
	MaxRetries      int      `toml:"max_retries"`
	CallTimeout     duration `toml:"call_timeout"`
}

// RateLimitConfig holds API rate limiting parameters.
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// SchedulerConfig holds background loop parameters.
type SchedulerConfig struct {
	Enabled              bool     `toml:"enabled"`
	GraduationInterval   duration `toml:"graduation_interval"`
	RetryInterval        duration `toml:"retry_interval"`
	ArchiveCron          string   `toml:"archive_cron"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "launchpad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Chain: ChainConfig{
			ChainID:        8453,
			ConfirmTimeout: duration{60 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "launchpad-archive",
			ForcePathStyle: true,
		},
		Curve: CurveConfig{
			FeeBps:        500,
			CreatorFeeBps: 7000,
			LockTTL:       duration{10 * time.Second},
		},
		Graduation: GraduationConfig{
			BatchSize:   100,
			RewardBps:   500,
			LockTTL:     duration{30 * time.Second},
			CallTimeout: duration{90 * time.Second},
		},
		Revenue: RevenueConfig{
			MaxRetries:  5,
			CallTimeout: duration{30 * time.Second},
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 120,
			Window:   duration{time.Minute},
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			GraduationInterval:   duration{15 * time.Second},
			RetryInterval:        duration{time.Minute},
			ArchiveCron:          "0 3 * * 0",
			ArchiveRetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"graduation_failed", "revenue_failure_abandoned"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":    true,
	"scheduler": true,
	"full":      true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, scheduler, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Chain. The stub needs no endpoint or key material.
	if !c.Chain.Stub {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty (or set chain.stub = true)")
		}
		if c.Chain.ContractAddress == "" {
			errs = append(errs, "chain: contract_address must not be empty")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Curve
	if c.Curve.FeeBps < 0 || c.Curve.FeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("curve: fee_bps must be 0-10000, got %d", c.Curve.FeeBps))
	}
	if c.Curve.CreatorFeeBps < 0 || c.Curve.CreatorFeeBps > 10_000 {
		errs = append(errs, fmt.Sprintf("curve: creator_fee_bps must be 0-10000, got %d", c.Curve.CreatorFeeBps))
	}

	// Graduation
	if c.Graduation.BatchSize < 1 {
		errs = append(errs, "graduation: batch_size must be >= 1")
	}
	if c.Graduation.RewardBps < 0 || c.Graduation.RewardBps > 10_000 {
		errs = append(errs, fmt.Sprintf("graduation: reward_bps must be 0-10000, got %d", c.Graduation.RewardBps))
	}

	// Revenue
	if c.Revenue.PlatformAddress == "" {
		errs = append(errs, "revenue: platform_address must not be empty")
	}
	if c.Revenue.MaxRetries < 1 {
		errs = append(errs, "revenue: max_retries must be >= 1")
	}

	// Rate limiting
	if c.RateLimit.Enabled && c.RateLimit.Requests < 1 {
		errs = append(errs, "ratelimit: requests must be >= 1 when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
