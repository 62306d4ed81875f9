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
// built-in defaults, applies ARBENGINE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ARBENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Mode, "ARBENGINE_MODE")
	setStr(&cfg.LogLevel, "ARBENGINE_LOG_LEVEL")

	// ── Feed ──
	setInt(&cfg.Feed.SubscriberBuffer, "ARBENGINE_FEED_SUBSCRIBER_BUFFER")
	setDuration(&cfg.Feed.GeneratorInterval, "ARBENGINE_FEED_GENERATOR_INTERVAL")

	// ── Detector ──
	setFloat64(&cfg.Detector.MinSpreadPct, "ARBENGINE_DETECTOR_MIN_SPREAD_PCT")
	setFloat64(&cfg.Detector.MinNetProfitUSD, "ARBENGINE_DETECTOR_MIN_NET_PROFIT_USD")
	setDuration(&cfg.Detector.OpportunityTTL, "ARBENGINE_DETECTOR_OPPORTUNITY_TTL")
	setFloat64(&cfg.Detector.VolatilityPct, "ARBENGINE_DETECTOR_VOLATILITY_PCT")
	setDuration(&cfg.Detector.StalenessBound, "ARBENGINE_DETECTOR_STALENESS_BOUND")
	setFloat64(&cfg.Detector.LiquidityFloor, "ARBENGINE_DETECTOR_LIQUIDITY_FLOOR")
	setFloat64(&cfg.Detector.DefaultFeeBps, "ARBENGINE_DETECTOR_DEFAULT_FEE_BPS")
	setDuration(&cfg.Detector.ExecTimeEstimate, "ARBENGINE_DETECTOR_EXEC_TIME_ESTIMATE")
	setInt(&cfg.Detector.Workers, "ARBENGINE_DETECTOR_WORKERS")
	setDuration(&cfg.Detector.SweepInterval, "ARBENGINE_DETECTOR_SWEEP_INTERVAL")

	// ── Executor ──
	setDuration(&cfg.Executor.LegTimeout, "ARBENGINE_EXECUTOR_LEG_TIMEOUT")
	setDuration(&cfg.Executor.PollInterval, "ARBENGINE_EXECUTOR_POLL_INTERVAL")
	setFloat64(&cfg.Executor.MaxAmount, "ARBENGINE_EXECUTOR_MAX_AMOUNT")
	setDuration(&cfg.Executor.LockTTL, "ARBENGINE_EXECUTOR_LOCK_TTL")

	// ── Trader ──
	setStr(&cfg.Trader.MaxRisk, "ARBENGINE_TRADER_MAX_RISK")
	setFloat64(&cfg.Trader.MinNetProfitUSD, "ARBENGINE_TRADER_MIN_NET_PROFIT_USD")
	setDuration(&cfg.Trader.PairCooldown, "ARBENGINE_TRADER_PAIR_COOLDOWN")
	setInt(&cfg.Trader.MaxConcurrent, "ARBENGINE_TRADER_MAX_CONCURRENT")
	setStringSlice(&cfg.Trader.Symbols, "ARBENGINE_TRADER_SYMBOLS")

	// ── Exchanges ──
	// Credentials per venue: ARBENGINE_EXCHANGE_<NAME>_API_KEY etc., where
	// <NAME> is the upper-cased venue key from the TOML file.
	for name, ex := range cfg.Exchanges {
		prefix := "ARBENGINE_EXCHANGE_" + strings.ToUpper(name) + "_"
		setStr(&ex.WSURL, prefix+"WS_URL")
		setStr(&ex.RESTURL, prefix+"REST_URL")
		setStr(&ex.APIKey, prefix+"API_KEY")
		setStr(&ex.APISecret, prefix+"API_SECRET")
		setStr(&ex.EncryptedSecretPath, prefix+"ENCRYPTED_SECRET_PATH")
		setStr(&ex.SecretPassword, prefix+"SECRET_PASSWORD")
		cfg.Exchanges[name] = ex
	}

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARBENGINE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARBENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARBENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARBENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARBENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARBENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARBENGINE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARBENGINE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARBENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARBENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARBENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARBENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARBENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARBENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARBENGINE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARBENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARBENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARBENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARBENGINE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARBENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARBENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARBENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARBENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARBENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARBENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARBENGINE_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "ARBENGINE_S3_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "ARBENGINE_S3_ARCHIVE_CRON")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "ARBENGINE_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "ARBENGINE_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "ARBENGINE_KAFKA_TOPIC")
	setStr(&cfg.Kafka.GroupID, "ARBENGINE_KAFKA_GROUP_ID")

	// ── Gas ──
	setStr(&cfg.Gas.Mode, "ARBENGINE_GAS_MODE")
	setFloat64(&cfg.Gas.StaticFeeUSD, "ARBENGINE_GAS_STATIC_FEE_USD")
	setStr(&cfg.Gas.RPCURL, "ARBENGINE_GAS_RPC_URL")
	setUint64(&cfg.Gas.GasUnits, "ARBENGINE_GAS_GAS_UNITS")
	setFloat64(&cfg.Gas.EthPriceUSD, "ARBENGINE_GAS_ETH_PRICE_USD")
	setDuration(&cfg.Gas.CacheTTL, "ARBENGINE_GAS_CACHE_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARBENGINE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARBENGINE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARBENGINE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARBENGINE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARBENGINE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "ARBENGINE_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARBENGINE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARBENGINE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARBENGINE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARBENGINE_NOTIFY_EVENTS")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
