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
// built-in defaults, applies SIMPLIFI_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIMPLIFI_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setStr(&cfg.Protocol.Deployer, "SIMPLIFI_PROTOCOL_DEPLOYER")
	setStr(&cfg.Protocol.EngineAddress, "SIMPLIFI_PROTOCOL_ENGINE_ADDRESS")
	setStr(&cfg.Protocol.RouterAddress, "SIMPLIFI_PROTOCOL_ROUTER_ADDRESS")
	setStr(&cfg.Protocol.StableAddress, "SIMPLIFI_PROTOCOL_STABLE_ADDRESS")
	setStr(&cfg.Protocol.PTAddress, "SIMPLIFI_PROTOCOL_PT_ADDRESS")
	setStr(&cfg.Protocol.StableName, "SIMPLIFI_PROTOCOL_STABLE_NAME")
	setStr(&cfg.Protocol.StableSymbol, "SIMPLIFI_PROTOCOL_STABLE_SYMBOL")
	setInt(&cfg.Protocol.StableDecimals, "SIMPLIFI_PROTOCOL_STABLE_DECIMALS")

	// ── Strategy ──
	setUint64(&cfg.Strategy.YieldPercent, "SIMPLIFI_STRATEGY_YIELD_PERCENT")
	setDuration(&cfg.Strategy.Duration, "SIMPLIFI_STRATEGY_DURATION")

	// ── Fees ──
	setUint64(&cfg.Fees.ProtocolFeePoints, "SIMPLIFI_FEES_PROTOCOL_FEE_POINTS")
	setUint64(&cfg.Fees.CGPFeePoints, "SIMPLIFI_FEES_CGP_FEE_POINTS")

	// ── NFT ──
	setStr(&cfg.NFT.BaseURI, "SIMPLIFI_NFT_BASE_URI")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SIMPLIFI_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIMPLIFI_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIMPLIFI_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIMPLIFI_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIMPLIFI_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIMPLIFI_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIMPLIFI_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIMPLIFI_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIMPLIFI_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIMPLIFI_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIMPLIFI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIMPLIFI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIMPLIFI_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIMPLIFI_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIMPLIFI_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIMPLIFI_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SIMPLIFI_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SIMPLIFI_S3_REGION")
	setStr(&cfg.S3.Bucket, "SIMPLIFI_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SIMPLIFI_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SIMPLIFI_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SIMPLIFI_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SIMPLIFI_S3_FORCE_PATH_STYLE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "SIMPLIFI_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ArchiveInterval, "SIMPLIFI_PIPELINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "SIMPLIFI_PIPELINE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIMPLIFI_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIMPLIFI_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIMPLIFI_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SIMPLIFI_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SIMPLIFI_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SIMPLIFI_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIMPLIFI_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIMPLIFI_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIMPLIFI_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIMPLIFI_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIMPLIFI_MODE")
	setStr(&cfg.LogLevel, "SIMPLIFI_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
