// Package config defines the top-level configuration for the SimpliFi
// protocol service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIMPLIFI_* environment variables.
type Config struct {
	Protocol Protocol       `toml:"protocol"`
	Strategy StrategyConfig `toml:"strategy"`
	Fees     FeesConfig     `toml:"fees"`
	NFT      NFTConfig      `toml:"nft"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// Protocol holds the ledger account addresses. The deployer becomes the first
// admin; the custody addresses hold swapped-in principal and accrued fees.
type Protocol struct {
	Deployer       string `toml:"deployer"`
	EngineAddress  string `toml:"engine_address"`
	RouterAddress  string `toml:"router_address"`
	StableAddress  string `toml:"stable_address"`
	PTAddress      string `toml:"pt_address"`
	StableName     string `toml:"stable_name"`
	StableSymbol   string `toml:"stable_symbol"`
	StableDecimals int    `toml:"stable_decimals"`
}

// StrategyConfig holds the fixed-term strategy market terms.
type StrategyConfig struct {
	YieldPercent uint64   `toml:"yield_percent"`
	Duration     duration `toml:"duration"`
}

// FeesConfig holds the initial fee shares, in basis points of realized yield.
type FeesConfig struct {
	ProtocolFeePoints uint64 `toml:"protocol_fee_points"`
	CGPFeePoints      uint64 `toml:"cgp_fee_points"`
}

// NFTConfig holds position-token metadata parameters.
type NFTConfig struct {
	BaseURI string `toml:"base_uri"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PipelineConfig holds the history-archival parameters.
type PipelineConfig struct {
	Enabled              bool     `toml:"enabled"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "720h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"` // empty disables authentication
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Protocol: Protocol{
			EngineAddress:  "0x0000000000000000000000000000000000000101",
			RouterAddress:  "0x0000000000000000000000000000000000000102",
			StableAddress:  "0x0000000000000000000000000000000000000201",
			PTAddress:      "0x0000000000000000000000000000000000000202",
			StableName:     "Genius USD",
			StableSymbol:   "gUSDC",
			StableDecimals: 18,
		},
		Strategy: StrategyConfig{
			YieldPercent: 10,
			Duration:     duration{365 * 24 * time.Hour},
		},
		Fees: FeesConfig{
			ProtocolFeePoints: 100,
			CGPFeePoints:      50,
		},
		NFT: NFTConfig{
			BaseURI: "QmSimplifiStrategyImage",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "simplifi",
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
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "simplifi-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Pipeline: PipelineConfig{
			Enabled:              false,
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"ProtocolFeesWithdrawn", "CGPFeesWithdrawn", "FeePointsUpdated"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "memory" runs
// the protocol with no external services on an in-process bus; "server"
// adds Redis and the Postgres journal; "full" adds the archival pipeline.
var validModes = map[string]bool{
	"memory": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// IsMemoryMode reports whether the service runs purely in process, without
// Postgres, Redis, or S3.
func (c *Config) IsMemoryMode() bool {
	return strings.ToLower(c.Mode) == "memory"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: memory, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol accounts
	if !common.IsHexAddress(c.Protocol.Deployer) {
		errs = append(errs, fmt.Sprintf("protocol: deployer %q is not a valid address", c.Protocol.Deployer))
	}
	for name, addr := range map[string]string{
		"engine_address": c.Protocol.EngineAddress,
		"router_address": c.Protocol.RouterAddress,
		"stable_address": c.Protocol.StableAddress,
		"pt_address":     c.Protocol.PTAddress,
	} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("protocol: %s %q is not a valid address", name, addr))
		}
	}
	if c.Protocol.StableDecimals < 0 || c.Protocol.StableDecimals > 18 {
		errs = append(errs, fmt.Sprintf("protocol: stable_decimals must be 0-18, got %d", c.Protocol.StableDecimals))
	}

	// Strategy terms
	if c.Strategy.YieldPercent >= 100 {
		errs = append(errs, fmt.Sprintf("strategy: yield_percent must be below 100, got %d", c.Strategy.YieldPercent))
	}
	if c.Strategy.Duration.Duration <= 0 {
		errs = append(errs, "strategy: duration must be positive")
	}

	// Fees
	if c.Fees.ProtocolFeePoints > 5000 {
		errs = append(errs, fmt.Sprintf("fees: protocol_fee_points must be <= 5000, got %d", c.Fees.ProtocolFeePoints))
	}
	if c.Fees.CGPFeePoints > 5000 {
		errs = append(errs, fmt.Sprintf("fees: cgp_fee_points must be <= 5000, got %d", c.Fees.CGPFeePoints))
	}

	// Postgres and Redis back the server and full modes; memory mode runs
	// without them.
	if !c.IsMemoryMode() {
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

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
	}

	// S3 is only required when archival is on.
	if c.Pipeline.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when pipeline is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when pipeline is enabled")
		}
		if c.Pipeline.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "pipeline: archive_interval must be positive")
		}
		if c.Pipeline.ArchiveRetentionDays < 1 {
			errs = append(errs, "pipeline: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	// Telegram credentials must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// DeployerAddress returns the parsed deployer account. Call Validate first.
func (c *Config) DeployerAddress() common.Address {
	return common.HexToAddress(c.Protocol.Deployer)
}
