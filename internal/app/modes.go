package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avolkov/arbengine/internal/bot"
	"github.com/avolkov/arbengine/internal/executor"
	"github.com/avolkov/arbengine/internal/server"
	"github.com/avolkov/arbengine/internal/server/handler"
	"github.com/avolkov/arbengine/internal/server/ws"
)

// dedupCleanupInterval is how often the fill sink prunes expired dedup keys.
const dedupCleanupInterval = time.Minute

// DetectMode streams market data, detects opportunities, and records them.
// No orders are placed.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startDetection(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// TradeMode runs detection plus the auto-trader and fill reconciliation.
// Paper mode takes the same path with simulated venues and gateways.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startDetection(ctx, g, deps)
	a.startTrading(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the HTTP and WebSocket API over shared infrastructure
// without running detection or execution in this process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: feeds, detection, trading, reconciliation,
// archival, and the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startDetection(ctx, g, deps)
	a.startTrading(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	a.startServer(ctx, g, deps)

	return g.Wait()
}

// startFeed launches one connector goroutine per venue.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	for _, conn := range deps.Connectors {
		conn := conn
		g.Go(func() error {
			err := conn.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return err
			}
			if err != nil {
				a.logger.ErrorContext(ctx, "connector stopped",
					slog.String("exchange", conn.Name()),
					slog.String("error", err.Error()),
				)
			}
			return err
		})
	}
}

// startDetection launches the detector workers, the registry expiry sweeper,
// and the event recorder.
func (a *App) startDetection(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	changes := deps.Adapter.Subscribe(a.cfg.Feed.SubscriberBuffer)
	g.Go(func() error {
		return deps.Detector.Run(ctx, changes)
	})

	g.Go(func() error {
		deps.Registry.Run(ctx, a.cfg.Detector.SweepInterval.Duration)
		return ctx.Err()
	})

	events := deps.Registry.Watch(a.cfg.Feed.SubscriberBuffer)
	g.Go(func() error {
		deps.Recorder.Pump(ctx, events)
		return ctx.Err()
	})
}

// startTrading launches the auto-trader, the fill sink maintenance loop, and
// the Kafka fill consumer when configured.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	events := deps.Registry.Watch(a.cfg.Feed.SubscriberBuffer)
	g.Go(func() error {
		return deps.Trader.Run(ctx, events)
	})

	g.Go(func() error {
		deps.Sink.Run(ctx, dedupCleanupInterval)
		return ctx.Err()
	})

	if deps.FillConsumer != nil {
		g.Go(func() error {
			return deps.FillConsumer.Run(ctx)
		})
	}
}

// startArchiver launches the cron-scheduled history archival job.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	cron := a.cfg.S3.ArchiveCron
	g.Go(func() error {
		return deps.Archiver.RunCron(ctx, cron)
	})
}

// startServer assembles the HTTP handlers and WebSocket hub and runs the API
// server until the context is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	startedAt := time.Now().UTC()

	attempts := executor.NewAttemptRegistry()
	if deps.Coordinator != nil {
		attempts = deps.Coordinator.Attempts()
	}

	traderStats := func() bot.Stats { return bot.Stats{} }
	if deps.Trader != nil {
		traderStats = deps.Trader.Stats
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Pingers),
		Status: handler.NewStatusHandler(handler.StatusInfo{
			Mode:             a.cfg.Mode,
			StartedAt:        startedAt,
			QuoteCount:       deps.Book.Len,
			OpportunityCount: deps.Registry.Len,
			TraderStats:      traderStats,
		}),
		Opportunities: handler.NewOpportunityHandler(deps.Registry, deps.OpportunityArchive),
		Executions:    handler.NewExecutionHandler(attempts, deps.ExecutionStore),
	}
	if deps.Sink != nil {
		handlers.Fills = handler.NewFillHandler(deps.Sink)
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.New(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
