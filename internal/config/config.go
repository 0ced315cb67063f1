// Package config defines the top-level configuration for the market daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market     MarketConfig     `toml:"market"`
	Collateral CollateralConfig `toml:"collateral"`
	Operator   OperatorConfig   `toml:"operator"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Keeper     KeeperConfig     `toml:"keeper"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// MarketConfig holds the defaults applied to newly created markets. Amounts
// are decimal strings in the collateral's base units so values above the
// int64 range survive the TOML round trip.
type MarketConfig struct {
	SeedingDuration duration `toml:"seeding_duration"`
	VotingDuration  duration `toml:"voting_duration"`
	MinSeedAmount   string   `toml:"min_seed_amount"`
	MinTradeAmount  string   `toml:"min_trade_amount"`
	FeeRateBps      int64    `toml:"fee_rate_bps"`
}

// Domain converts the TOML-level market defaults into a domain.MarketConfig.
// Call Validate first; Domain assumes the amount strings parse.
func (m MarketConfig) Domain() domain.MarketConfig {
	minSeed, _ := new(big.Int).SetString(m.MinSeedAmount, 10)
	minTrade, _ := new(big.Int).SetString(m.MinTradeAmount, 10)
	return domain.MarketConfig{
		SeedingDuration: m.SeedingDuration.Duration,
		VotingDuration:  m.VotingDuration.Duration,
		MinSeedAmount:   minSeed,
		MinTradeAmount:  minTrade,
		FeeRateBps:      m.FeeRateBps,
	}
}

// CollateralConfig describes the collateral token the daemon mints on boot.
type CollateralConfig struct {
	Name     string `toml:"name"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	// FaucetAmount is minted to each address that requests test funds.
	// Empty disables the faucet.
	FaucetAmount string `toml:"faucet_amount"`
}

// OperatorConfig holds the operator identity and API credentials.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ApiKey           string `toml:"api_key"`
	ApiSecret        string `toml:"api_secret"`
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

// KeeperConfig holds parameters for the background keeper loop that advances
// overdue phases and archives ended markets.
type KeeperConfig struct {
	Enabled         bool     `toml:"enabled"`
	Interval        duration `toml:"interval"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			SeedingDuration: duration{24 * time.Hour},
			VotingDuration:  duration{24 * time.Hour},
			MinSeedAmount:   "1000000",  // 1 USDC at 6 decimals
			MinTradeAmount:  "10000",    // 0.01 USDC
			FeeRateBps:      30,
		},
		Collateral: CollateralConfig{
			Name:         "Market USD",
			Symbol:       "mUSD",
			Decimals:     6,
			FaucetAmount: "1000000000", // 1000 mUSD
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "selfmarket",
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
			Bucket:         "selfmarket-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Keeper: KeeperConfig{
			Enabled:         true,
			Interval:        duration{30 * time.Second},
			ArchiveInterval: duration{1 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       60,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"phase", "archive", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"keeper":  true,
	"archive": true,
	"full":    true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, keeper, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market defaults
	if c.Market.SeedingDuration.Duration <= 0 {
		errs = append(errs, "market: seeding_duration must be positive")
	}
	if c.Market.VotingDuration.Duration <= 0 {
		errs = append(errs, "market: voting_duration must be positive")
	}
	if err := validAmount(c.Market.MinSeedAmount); err != nil {
		errs = append(errs, "market: min_seed_amount "+err.Error())
	}
	if err := validAmount(c.Market.MinTradeAmount); err != nil {
		errs = append(errs, "market: min_trade_amount "+err.Error())
	}
	if c.Market.FeeRateBps < 0 || c.Market.FeeRateBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("market: fee_rate_bps must be in [0, 10000), got %d", c.Market.FeeRateBps))
	}

	// Collateral
	if c.Collateral.Name == "" {
		errs = append(errs, "collateral: name must not be empty")
	}
	if c.Collateral.Symbol == "" {
		errs = append(errs, "collateral: symbol must not be empty")
	}
	if c.Collateral.FaucetAmount != "" {
		if err := validAmount(c.Collateral.FaucetAmount); err != nil {
			errs = append(errs, "collateral: faucet_amount "+err.Error())
		}
	}

	// Operator — a key source is required so phase transitions can be
	// attested; the HMAC pair gates the operator API.
	if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set")
	}
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}
	hk := c.Operator.ApiKey != ""
	hs := c.Operator.ApiSecret != ""
	if hk != hs {
		errs = append(errs, "operator: api_key and api_secret must be set together")
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

	// S3 — only required when archival runs.
	if c.Mode == "archive" || c.Mode == "full" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Keeper
	if c.Keeper.Enabled {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		if c.Keeper.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "keeper: archive_interval must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validAmount checks that s parses as a non-negative base-10 integer.
func validAmount(s string) error {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("must be a base-10 integer, got %q", s)
	}
	if n.Sign() < 0 {
		return fmt.Errorf("must not be negative, got %q", s)
	}
	return nil
}
