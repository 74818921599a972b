package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LAUNCHPAD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// TOML file and uses defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LAUNCHPAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "LAUNCHPAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LAUNCHPAD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LAUNCHPAD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LAUNCHPAD_SERVER_API_KEY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LAUNCHPAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "LAUNCHPAD_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "LAUNCHPAD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LAUNCHPAD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LAUNCHPAD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LAUNCHPAD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LAUNCHPAD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LAUNCHPAD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LAUNCHPAD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LAUNCHPAD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LAUNCHPAD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LAUNCHPAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LAUNCHPAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LAUNCHPAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LAUNCHPAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LAUNCHPAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LAUNCHPAD_REDIS_TLS_ENABLED")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "LAUNCHPAD_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "LAUNCHPAD_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "LAUNCHPAD_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "LAUNCHPAD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "LAUNCHPAD_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "LAUNCHPAD_CHAIN_KEY_PASSWORD")
	setDuration(&cfg.Chain.ConfirmTimeout, "LAUNCHPAD_CHAIN_CONFIRM_TIMEOUT")
	setBool(&cfg.Chain.Stub, "LAUNCHPAD_CHAIN_STUB")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LAUNCHPAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LAUNCHPAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LAUNCHPAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "LAUNCHPAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LAUNCHPAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LAUNCHPAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LAUNCHPAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LAUNCHPAD_S3_FORCE_PATH_STYLE")

	// ── Curve ──
	setInt(&cfg.Curve.FeeBps, "LAUNCHPAD_CURVE_FEE_BPS")
	setInt(&cfg.Curve.CreatorFeeBps, "LAUNCHPAD_CURVE_CREATOR_FEE_BPS")
	setDuration(&cfg.Curve.LockTTL, "LAUNCHPAD_CURVE_LOCK_TTL")

	// ── Graduation ──
	setInt(&cfg.Graduation.BatchSize, "LAUNCHPAD_GRADUATION_BATCH_SIZE")
	setInt(&cfg.Graduation.RewardBps, "LAUNCHPAD_GRADUATION_REWARD_BPS")
	setDuration(&cfg.Graduation.LockTTL, "LAUNCHPAD_GRADUATION_LOCK_TTL")
	setDuration(&cfg.Graduation.CallTimeout, "LAUNCHPAD_GRADUATION_CALL_TIMEOUT")

	// ── Revenue ──
	setStr(&cfg.Revenue.PlatformAddress, "LAUNCHPAD_REVENUE_PLATFORM_ADDRESS")
	setInt(&cfg.Revenue.MaxRetries, "LAUNCHPAD_REVENUE_MAX_RETRIES")
	setDuration(&cfg.Revenue.CallTimeout, "LAUNCHPAD_REVENUE_CALL_TIMEOUT")

	// ── Rate limiting ──
	setBool(&cfg.RateLimit.Enabled, "LAUNCHPAD_RATELIMIT_ENABLED")
	setInt(&cfg.RateLimit.Requests, "LAUNCHPAD_RATELIMIT_REQUESTS")
	setDuration(&cfg.RateLimit.Window, "LAUNCHPAD_RATELIMIT_WINDOW")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "LAUNCHPAD_SCHEDULER_ENABLED")
	setDuration(&cfg.Scheduler.GraduationInterval, "LAUNCHPAD_SCHEDULER_GRADUATION_INTERVAL")
	setDuration(&cfg.Scheduler.RetryInterval, "LAUNCHPAD_SCHEDULER_RETRY_INTERVAL")
	setStr(&cfg.Scheduler.ArchiveCron, "LAUNCHPAD_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "LAUNCHPAD_SCHEDULER_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LAUNCHPAD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LAUNCHPAD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LAUNCHPAD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LAUNCHPAD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LAUNCHPAD_MODE")
	setStr(&cfg.LogLevel, "LAUNCHPAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
