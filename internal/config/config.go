// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARBENGINE_* environment
// variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Feed      FeedConfig                `toml:"feed"`
	Detector  DetectorConfig            `toml:"detector"`
	Executor  ExecutorConfig            `toml:"executor"`
	Trader    TraderConfig              `toml:"trader"`
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`
	Redis     RedisConfig               `toml:"redis"`
	Postgres  PostgresConfig            `toml:"postgres"`
	S3        S3Config                  `toml:"s3"`
	Kafka     KafkaConfig               `toml:"kafka"`
	Gas       GasConfig                 `toml:"gas"`
	Server    ServerConfig              `toml:"server"`
	Notify    NotifyConfig              `toml:"notify"`
}

// FeedConfig holds the market-data ingestion parameters.
type FeedConfig struct {
	// SubscriberBuffer is the per-subscriber channel depth for quote change
	// fan-out.
	SubscriberBuffer int `toml:"subscriber_buffer"`

	// StartPrices seeds the synthetic generator with a mid price per symbol
	// (paper mode only).
	StartPrices map[string]float64 `toml:"start_prices"`

	// GeneratorInterval is the synthetic quote cadence (paper mode only).
	GeneratorInterval duration `toml:"generator_interval"`
}

// DetectorConfig holds the spread detection thresholds.
type DetectorConfig struct {
	MinSpreadPct     float64  `toml:"min_spread_pct"`
	MinNetProfitUSD  float64  `toml:"min_net_profit_usd"`
	OpportunityTTL   duration `toml:"opportunity_ttl"`
	VolatilityPct    float64  `toml:"volatility_pct"`
	StalenessBound   duration `toml:"staleness_bound"`
	LiquidityFloor   float64  `toml:"liquidity_floor"`
	DefaultFeeBps    float64  `toml:"default_fee_bps"`
	ExecTimeEstimate duration `toml:"exec_time_estimate"`
	Workers          int      `toml:"workers"`
	SweepInterval    duration `toml:"sweep_interval"`
}

// ExecutorConfig holds the two-leg execution parameters.
type ExecutorConfig struct {
	LegTimeout   duration `toml:"leg_timeout"`
	PollInterval duration `toml:"poll_interval"`
	MaxAmount    float64  `toml:"max_amount"`
	LockTTL      duration `toml:"lock_ttl"`
}

// TraderConfig holds the auto-trader policy.
type TraderConfig struct {
	MaxRisk         string   `toml:"max_risk"` // LOW, MEDIUM, HIGH
	MinNetProfitUSD float64  `toml:"min_net_profit_usd"`
	PairCooldown    duration `toml:"pair_cooldown"`
	MaxConcurrent   int      `toml:"max_concurrent"`

	// Symbols restricts trading to these symbols. Empty means all symbols.
	Symbols []string `toml:"symbols"`
}

// ExchangeConfig describes one trading venue: its market-data stream, order
// gateway, fee schedule, and credentials.
type ExchangeConfig struct {
	// WSURL is the ticker stream endpoint. Empty in paper mode.
	WSURL string `toml:"ws_url"`

	// RESTURL is the order gateway base URL. Empty in paper mode.
	RESTURL string `toml:"rest_url"`

	// Symbols to subscribe to on this venue.
	Symbols []string `toml:"symbols"`

	// FeeBps is the taker fee in basis points applied to order notional.
	FeeBps float64 `toml:"fee_bps"`

	// Paper routes this venue's orders to the instant-fill simulator.
	Paper bool `toml:"paper"`

	// Bias shifts the synthetic generator's mid price for this venue
	// (paper mode only).
	Bias float64 `toml:"bias"`

	// Credentials. APISecret may be given inline, or via an encrypted blob on
	// disk plus a password.
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	// RateLimit caps outbound gateway requests per RateLimitWindow.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// S3Config holds S3-compatible object storage parameters for history
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// RetentionDays is the age at which history records are archived.
	RetentionDays int `toml:"retention_days"`

	// ArchiveCron is a 5-field cron expression scheduling archive runs.
	ArchiveCron string `toml:"archive_cron"`
}

// KafkaConfig holds the fill-event ingress parameters.
type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// GasConfig selects the gas fee estimator: a static USD figure or a live
// Ethereum RPC oracle.
type GasConfig struct {
	// Mode is "static" or "eth".
	Mode string `toml:"mode"`

	StaticFeeUSD float64 `toml:"static_fee_usd"`

	RPCURL      string   `toml:"rpc_url"`
	GasUnits    uint64   `toml:"gas_units"`
	EthPriceUSD float64  `toml:"eth_price_usd"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds operator alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration to support TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. These
// match config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Feed: FeedConfig{
			SubscriberBuffer: 256,
			StartPrices: map[string]float64{
				"BTC-USD": 65000,
				"ETH-USD": 3200,
			},
			GeneratorInterval: duration{500 * time.Millisecond},
		},
		Detector: DetectorConfig{
			MinSpreadPct:     0.001,
			MinNetProfitUSD:  1.0,
			OpportunityTTL:   duration{5 * time.Second},
			VolatilityPct:    0.05,
			StalenessBound:   duration{3 * time.Second},
			LiquidityFloor:   0.1,
			DefaultFeeBps:    10,
			ExecTimeEstimate: duration{2 * time.Second},
			Workers:          8,
			SweepInterval:    duration{time.Second},
		},
		Executor: ExecutorConfig{
			LegTimeout:   duration{10 * time.Second},
			PollInterval: duration{200 * time.Millisecond},
			MaxAmount:    10,
			LockTTL:      duration{30 * time.Second},
		},
		Trader: TraderConfig{
			MaxRisk:       "LOW",
			PairCooldown:  duration{30 * time.Second},
			MaxConcurrent: 4,
		},
		Exchanges: map[string]ExchangeConfig{
			"alpha": {
				Paper:   true,
				Symbols: []string{"BTC-USD", "ETH-USD"},
				FeeBps:  10,
			},
			"beta": {
				Paper:   true,
				Symbols: []string{"BTC-USD", "ETH-USD"},
				FeeBps:  10,
				Bias:    0.003,
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbengine-data",
			ForcePathStyle: true,
			RetentionDays:  90,
			ArchiveCron:    "0 3 * * *",
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "fills",
			GroupID: "arbengine",
		},
		Gas: GasConfig{
			Mode:         "static",
			StaticFeeUSD: 0.5,
			GasUnits:     21000,
			EthPriceUSD:  3200,
			CacheTTL:     duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"stranded", "negative_profit"},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect": true,
	"trade":  true,
	"paper":  true,
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

var validRiskLevels = map[string]bool{
	"LOW":    true,
	"MEDIUM": true,
	"HIGH":   true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, trade, paper, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.SubscriberBuffer < 1 {
		errs = append(errs, "feed: subscriber_buffer must be >= 1")
	}

	// Detector
	if c.Detector.MinSpreadPct < 0 {
		errs = append(errs, "detector: min_spread_pct must be >= 0")
	}
	if c.Detector.OpportunityTTL.Duration <= 0 {
		errs = append(errs, "detector: opportunity_ttl must be > 0")
	}
	if c.Detector.StalenessBound.Duration <= 0 {
		errs = append(errs, "detector: staleness_bound must be > 0")
	}
	if c.Detector.Workers < 1 {
		errs = append(errs, "detector: workers must be >= 1")
	}

	// Executor
	if c.Executor.LegTimeout.Duration <= 0 {
		errs = append(errs, "executor: leg_timeout must be > 0")
	}
	if c.Executor.PollInterval.Duration <= 0 {
		errs = append(errs, "executor: poll_interval must be > 0")
	}

	// Trader
	if c.Trader.MaxRisk != "" && !validRiskLevels[strings.ToUpper(c.Trader.MaxRisk)] {
		errs = append(errs, fmt.Sprintf("trader: unknown max_risk %q (valid: LOW, MEDIUM, HIGH)", c.Trader.MaxRisk))
	}

	// Exchanges
	mode := strings.ToLower(c.Mode)
	if mode != "server" && len(c.Exchanges) < 2 {
		errs = append(errs, fmt.Sprintf("exchanges: at least two venues are required for cross-exchange detection, got %d", len(c.Exchanges)))
	}
	for name, ex := range c.Exchanges {
		if len(ex.Symbols) == 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: symbols must not be empty", name))
		}
		if !ex.Paper {
			if ex.WSURL == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: ws_url is required for live venues", name))
			}
			if ex.RESTURL == "" && (mode == "trade" || mode == "full") {
				errs = append(errs, fmt.Sprintf("exchanges.%s: rest_url is required for mode %s", name, c.Mode))
			}
			if ex.APIKey == "" && (mode == "trade" || mode == "full") {
				errs = append(errs, fmt.Sprintf("exchanges.%s: api_key is required for mode %s", name, c.Mode))
			}
			if ex.APISecret == "" && ex.EncryptedSecretPath == "" && (mode == "trade" || mode == "full") {
				errs = append(errs, fmt.Sprintf("exchanges.%s: api_secret or encrypted_secret_path is required for mode %s", name, c.Mode))
			}
			if ex.EncryptedSecretPath != "" && ex.SecretPassword == "" {
				errs = append(errs, fmt.Sprintf("exchanges.%s: secret_password is required when encrypted_secret_path is set", name))
			}
		}
		if ex.FeeBps < 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s: fee_bps must be >= 0", name))
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be >= 1 when enabled")
		}
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty when enabled")
		}
	}

	// Gas
	switch strings.ToLower(c.Gas.Mode) {
	case "static":
		if c.Gas.StaticFeeUSD < 0 {
			errs = append(errs, "gas: static_fee_usd must be >= 0")
		}
	case "eth":
		if c.Gas.RPCURL == "" {
			errs = append(errs, "gas: rpc_url is required for eth mode")
		}
		if c.Gas.EthPriceUSD <= 0 {
			errs = append(errs, "gas: eth_price_usd must be > 0 for eth mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("gas: unknown mode %q (valid: static, eth)", c.Gas.Mode))
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
