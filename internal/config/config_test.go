package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.Stub = true
	cfg.Revenue.PlatformAddress = "0x00000000000000000000000000000000000000aa"
	return cfg
}

func TestDefaultsValidateWithStubChain(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "batch"
	cfg.Curve.FeeBps = 20_000
	cfg.Graduation.BatchSize = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "fee_bps")
	assert.Contains(t, err.Error(), "batch_size")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateRequiresKeyMaterialForRealChain(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.Stub = false
	cfg.Chain.RPCURL = "https://mainnet.base.org"
	cfg.Chain.ContractAddress = "0x00000000000000000000000000000000000000bb"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key")

	cfg.Chain.EncryptedKeyPath = "/etc/launchpad/operator.key"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")

	cfg.Chain.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LAUNCHPAD_SERVER_PORT", "9100")
	t.Setenv("LAUNCHPAD_CURVE_FEE_BPS", "250")
	t.Setenv("LAUNCHPAD_SCHEDULER_RETRY_INTERVAL", "30s")
	t.Setenv("LAUNCHPAD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LAUNCHPAD_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Curve.FeeBps)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.RetryInterval.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Postgres.RunMigrations)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0 3 * * 0", cfg.Scheduler.ArchiveCron)
}
