package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeployer = "0x00000000000000000000000000000000000000a1"

func validConfig() Config {
	cfg := Defaults()
	cfg.Protocol.Deployer = testDeployer
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 365*24*time.Hour, cfg.Strategy.Duration.Duration)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"missing deployer", func(c *Config) { c.Protocol.Deployer = "" }, "deployer"},
		{"bad engine address", func(c *Config) { c.Protocol.EngineAddress = "nope" }, "engine_address"},
		{"bad mode", func(c *Config) { c.Mode = "batch" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"yield too high", func(c *Config) { c.Strategy.YieldPercent = 100 }, "yield_percent"},
		{"zero duration", func(c *Config) { c.Strategy.Duration.Duration = 0 }, "duration"},
		{"protocol fee over cap", func(c *Config) { c.Fees.ProtocolFeePoints = 5001 }, "protocol_fee_points"},
		{"cgp fee over cap", func(c *Config) { c.Fees.CGPFeePoints = 5001 }, "cgp_fee_points"},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 0 }, "postgres: port"},
		{"pool min over max", func(c *Config) { c.Postgres.PoolMinConns = 99 }, "pool_min_conns"},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }, "redis: addr"},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{
			"rate limit without window",
			func(c *Config) { c.Server.RateLimitWindow.Duration = 0 },
			"rate_limit_window",
		},
		{
			"telegram token without chat id",
			func(c *Config) { c.Notify.TelegramToken = "tok" },
			"telegram",
		},
		{
			"pipeline without bucket",
			func(c *Config) { c.Pipeline.Enabled = true; c.S3.Bucket = "" },
			"s3: bucket",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestValidateMemoryModeSkipsBackendChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "memory"
	cfg.Redis.Addr = ""
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsMemoryMode())
}

func TestValidateSkipsHostChecksWithDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/simplifi"
	cfg.Postgres.Host = ""
	cfg.Postgres.Port = 0
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func TestValidateSkipsS3ChecksWhenPipelineDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Pipeline.Enabled = false
	cfg.S3.Bucket = ""
	cfg.S3.Region = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "server"
log_level = "debug"

[protocol]
deployer = "` + testDeployer + `"

[strategy]
yield_percent = 7
duration = "2160h"

[server]
port = 9100
api_key = "sekrit"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint64(7), cfg.Strategy.YieldPercent)
	assert.Equal(t, 90*24*time.Hour, cfg.Strategy.Duration.Duration)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, uint64(100), cfg.Fees.ProtocolFeePoints)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[protocol]
deployer = "` + testDeployer + `"

[postgres]
password = "from-file"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("SIMPLIFI_POSTGRES_PASSWORD", "from-env")
	t.Setenv("SIMPLIFI_MODE", "server")
	t.Setenv("SIMPLIFI_SERVER_RATE_LIMIT", "10")
	t.Setenv("SIMPLIFI_SERVER_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("SIMPLIFI_SERVER_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Postgres.Password)
	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, 10, cfg.Server.RateLimit)
	assert.Equal(t, 30*time.Second, cfg.Server.RateLimitWindow.Duration)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	cfg.Server.APIKey = "api-secret"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Notify.TelegramChatID = "42"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.AccessKey)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Non-secret fields and the original are untouched.
	assert.Equal(t, "42", red.Notify.TelegramChatID)
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)

	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
