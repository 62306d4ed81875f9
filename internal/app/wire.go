package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/avolkov/arbengine/internal/blob/s3"
	"github.com/avolkov/arbengine/internal/bot"
	"github.com/avolkov/arbengine/internal/cache/memory"
	"github.com/avolkov/arbengine/internal/cache/redis"
	"github.com/avolkov/arbengine/internal/config"
	"github.com/avolkov/arbengine/internal/crypto"
	"github.com/avolkov/arbengine/internal/detector"
	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/exchange"
	"github.com/avolkov/arbengine/internal/executor"
	"github.com/avolkov/arbengine/internal/feed"
	"github.com/avolkov/arbengine/internal/gasoracle"
	"github.com/avolkov/arbengine/internal/gateway/paper"
	"github.com/avolkov/arbengine/internal/gateway/rest"
	"github.com/avolkov/arbengine/internal/ingest/kafka"
	"github.com/avolkov/arbengine/internal/notify"
	"github.com/avolkov/arbengine/internal/pipeline"
	"github.com/avolkov/arbengine/internal/registry"
	"github.com/avolkov/arbengine/internal/server/handler"
	"github.com/avolkov/arbengine/internal/service"
	"github.com/avolkov/arbengine/internal/sink"
	"github.com/avolkov/arbengine/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Market data
	Book       *feed.QuoteBook
	Adapter    *feed.Adapter
	Connectors []exchange.Connector

	// Detection
	Registry *registry.Registry
	Detector *detector.Detector

	// Execution
	Gateways    map[string]domain.OrderGateway
	Locks       domain.LockManager
	Coordinator *executor.Coordinator
	Trader      *bot.Trader

	// Reconciliation
	Sink         *sink.Sink
	FillConsumer *kafka.Consumer

	// Infrastructure
	Bus         domain.SignalBus
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter

	// Persistence
	OpportunityArchive domain.OpportunityArchive
	ExecutionStore     domain.ExecutionStore
	AuditStore         domain.AuditStore
	Archiver           *pipeline.Archiver

	// Egress
	Recorder *service.Recorder
	Notifier *notify.Notifier

	// Health probes for the API server, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// needsTrading reports whether the mode places orders.
func needsTrading(mode string) bool {
	switch mode {
	case "trade", "paper", "full":
		return true
	default:
		return false
	}
}

// needsFeed reports whether the mode consumes market data.
func needsFeed(mode string) bool {
	return mode != "server"
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function that releases resources in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	// --- Redis (quote mirror, signal bus, locks, rate limiting) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Bus = redis.NewSignalBus(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Pingers["redis"] = redisClient.Ping
	} else {
		// Single-process deployment: the in-process lock manager gives the
		// same per-pair exclusion guarantee.
		deps.Locks = memory.NewLockManager()
	}

	// --- PostgreSQL (history, audit) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OpportunityArchive = postgres.NewOpportunityStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pool.Ping
	}

	// --- S3 (history archival) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = s3Client.Health

		blobArchiver := s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.OpportunityArchive,
			deps.ExecutionStore,
			deps.AuditStore,
		)
		deps.Archiver = pipeline.NewArchiver(blobArchiver, cfg.S3.RetentionDays, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Egress ---
	deps.Recorder = service.NewRecorder(deps.Bus, deps.OpportunityArchive, deps.AuditStore, deps.Notifier, logger)

	// --- Market data and detection ---
	deps.Book = feed.NewQuoteBook()
	deps.Adapter = feed.NewAdapter(deps.Book, deps.QuoteCache, deps.Bus, logger)
	deps.Registry = registry.New(logger)

	gas, err := wireGasEstimator(ctx, cfg, logger, &closers)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	feeBps := make(map[string]float64, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		feeBps[name] = ex.FeeBps
	}
	deps.Detector = detector.New(detector.Config{
		MinSpreadPct:     cfg.Detector.MinSpreadPct,
		MinNetProfitUSD:  cfg.Detector.MinNetProfitUSD,
		OpportunityTTL:   cfg.Detector.OpportunityTTL.Duration,
		VolatilityPct:    cfg.Detector.VolatilityPct,
		StalenessBound:   cfg.Detector.StalenessBound.Duration,
		LiquidityFloor:   cfg.Detector.LiquidityFloor,
		DefaultFeeBps:    cfg.Detector.DefaultFeeBps,
		FeeBpsByExchange: feeBps,
		ExecTimeEstimate: cfg.Detector.ExecTimeEstimate.Duration,
		Workers:          cfg.Detector.Workers,
	}, deps.Book, deps.Registry, gas, logger)

	if needsFeed(mode) {
		connectors, err := wireConnectors(cfg, mode, deps.Adapter, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Connectors = connectors
	}

	// --- Order gateways, execution, reconciliation ---
	if needsTrading(mode) {
		gateways, err := wireGateways(cfg, mode, deps.RateLimiter, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Gateways = gateways

		deps.Coordinator = executor.New(executor.Config{
			LegTimeout:   cfg.Executor.LegTimeout.Duration,
			PollInterval: cfg.Executor.PollInterval.Duration,
			MaxAmount:    cfg.Executor.MaxAmount,
			LockTTL:      cfg.Executor.LockTTL.Duration,
		}, deps.Registry, gateways, deps.Locks, deps.ExecutionStore, deps.Recorder, logger)

		deps.Trader = bot.New(bot.Config{
			MaxRisk:         domain.RiskLevel(strings.ToUpper(cfg.Trader.MaxRisk)),
			MinNetProfitUSD: decimal.NewFromFloat(cfg.Trader.MinNetProfitUSD),
			PairCooldown:    cfg.Trader.PairCooldown.Duration,
			MaxConcurrent:   cfg.Trader.MaxConcurrent,
			Symbols:         cfg.Trader.Symbols,
		}, deps.Coordinator, logger)

		deps.Sink = sink.New(deps.Coordinator.Attempts(), 10*time.Minute, deps.AuditStore, deps.Bus, logger)

		if cfg.Kafka.Enabled {
			deps.FillConsumer = kafka.NewConsumer(kafka.Config{
				Brokers: cfg.Kafka.Brokers,
				Topic:   cfg.Kafka.Topic,
				GroupID: cfg.Kafka.GroupID,
			}, deps.Sink, logger)
		}
	}

	return deps, cleanup, nil
}

// wireGasEstimator selects the static or on-chain oracle.
func wireGasEstimator(ctx context.Context, cfg *config.Config, logger *slog.Logger, closers *[]func()) (domain.GasEstimator, error) {
	switch strings.ToLower(cfg.Gas.Mode) {
	case "eth":
		oracle, err := gasoracle.NewEthOracle(ctx, gasoracle.EthConfig{
			RPCURL:      cfg.Gas.RPCURL,
			GasUnits:    int64(cfg.Gas.GasUnits),
			EthPriceUSD: cfg.Gas.EthPriceUSD,
			CacheTTL:    cfg.Gas.CacheTTL.Duration,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: gas oracle: %w", err)
		}
		*closers = append(*closers, oracle.Close)
		return oracle, nil
	default:
		return gasoracle.Static{Fee: decimal.NewFromFloat(cfg.Gas.StaticFeeUSD)}, nil
	}
}

// wireConnectors builds one market-data connector per venue. Paper venues and
// paper mode use the synthetic generator; live venues use the WebSocket
// stream.
func wireConnectors(cfg *config.Config, mode string, adapter *feed.Adapter, logger *slog.Logger) ([]exchange.Connector, error) {
	connectors := make([]exchange.Connector, 0, len(cfg.Exchanges))

	for name, ex := range cfg.Exchanges {
		if ex.Paper || mode == "paper" {
			symbols := make(map[string]float64, len(ex.Symbols))
			for _, sym := range ex.Symbols {
				start, ok := cfg.Feed.StartPrices[sym]
				if !ok {
					start = 100
				}
				symbols[sym] = start
			}
			gen, err := exchange.NewGenerator(exchange.GeneratorConfig{
				Exchange: name,
				Symbols:  symbols,
				Interval: cfg.Feed.GeneratorInterval.Duration,
				Bias:     ex.Bias,
			}, adapter, logger)
			if err != nil {
				return nil, fmt.Errorf("wire: generator %s: %w", name, err)
			}
			connectors = append(connectors, gen)
			continue
		}

		conn, err := exchange.NewWSConnector(exchange.WSConfig{
			Exchange: name,
			URL:      ex.WSURL,
			Symbols:  ex.Symbols,
		}, adapter, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: ws connector %s: %w", name, err)
		}
		connectors = append(connectors, conn)
	}

	return connectors, nil
}

// wireGateways builds one order gateway per venue. Paper venues and paper
// mode get the instant-fill simulator; live venues get the signed REST
// gateway.
func wireGateways(cfg *config.Config, mode string, limiter domain.RateLimiter, logger *slog.Logger) (map[string]domain.OrderGateway, error) {
	sources := make(map[string]crypto.SecretSource)
	for name, ex := range cfg.Exchanges {
		if ex.Paper || mode == "paper" {
			continue
		}
		sources[name] = crypto.SecretSource{
			Key: ex.APIKey,
			Secret: crypto.SecretConfig{
				RawSecret:           ex.APISecret,
				EncryptedSecretPath: ex.EncryptedSecretPath,
				Password:            ex.SecretPassword,
			},
		}
	}
	provider := crypto.NewProvider(sources)

	gateways := make(map[string]domain.OrderGateway, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		if ex.Paper || mode == "paper" {
			gateways[name] = paper.New(name, int64(ex.FeeBps), logger)
			continue
		}

		gw, err := rest.New(rest.Config{
			Exchange:        name,
			BaseURL:         ex.RESTURL,
			RateLimit:       ex.RateLimit,
			RateLimitWindow: ex.RateLimitWindow.Duration,
		}, provider, limiter, logger)
		if err != nil {
			return nil, fmt.Errorf("wire: rest gateway %s: %w", name, err)
		}
		gateways[name] = gw
	}

	return gateways, nil
}
