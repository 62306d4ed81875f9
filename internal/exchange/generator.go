package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

// GeneratorConfig configures a synthetic quote generator.
type GeneratorConfig struct {
	// Exchange is the identifier stamped onto every quote.
	Exchange string

	// Symbols maps each symbol to its starting mid price in USD.
	Symbols map[string]float64

	// Interval between quote batches. Defaults to 500ms.
	Interval time.Duration

	// Bias shifts this venue's mid price by a constant fraction (e.g. 0.002
	// quotes 0.2% above the shared walk). Giving connectors different biases
	// produces occasional crossed books between venues.
	Bias float64

	// Seed for the random walk. Zero seeds from the current time.
	Seed int64
}

// Generator is a synthetic quote source for paper trading and local runs. It
// random-walks a mid price per symbol and quotes a small bid/ask band around
// it with randomized depth.
type Generator struct {
	cfg    GeneratorConfig
	sink   QuoteSink
	rng    *rand.Rand
	logger *slog.Logger
}

// NewGenerator creates a synthetic connector for the given venue.
func NewGenerator(cfg GeneratorConfig, sink QuoteSink, logger *slog.Logger) (*Generator, error) {
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("exchange: generator requires an exchange name")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("exchange: generator for %s requires at least one symbol", cfg.Exchange)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		sink: sink,
		rng:  rand.New(rand.NewSource(seed)),
		logger: logger.With(
			slog.String("component", "generator"),
			slog.String("exchange", cfg.Exchange),
		),
	}, nil
}

// Name returns the exchange identifier.
func (g *Generator) Name() string {
	return g.cfg.Exchange
}

// Run emits a quote per symbol every interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	mids := make(map[string]float64, len(g.cfg.Symbols))
	for sym, start := range g.cfg.Symbols {
		mids[sym] = start
	}

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	g.logger.Info("generator started",
		slog.Int("symbols", len(mids)),
		slog.Duration("interval", g.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for sym, mid := range mids {
				// Random walk within ±0.2% per tick.
				mid *= 1 + (g.rng.Float64()-0.5)*0.004
				if mid <= 0 {
					mid = g.cfg.Symbols[sym]
				}
				mids[sym] = mid

				quote := g.quote(sym, mid, now)
				if err := g.sink.Ingest(ctx, quote); err != nil {
					g.logger.Debug("quote rejected",
						slog.String("symbol", sym),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// quote builds a top-of-book quote around the biased mid with a half-spread
// between 1 and 6 basis points and randomized depth.
func (g *Generator) quote(symbol string, mid float64, now time.Time) domain.PriceQuote {
	biased := mid * (1 + g.cfg.Bias)
	halfSpread := biased * (0.0001 + g.rng.Float64()*0.0005)

	bid := decimal.NewFromFloat(biased - halfSpread)
	ask := decimal.NewFromFloat(biased + halfSpread)
	bidDepth := decimal.NewFromFloat(0.5 + g.rng.Float64()*10).Round(4)
	askDepth := decimal.NewFromFloat(0.5 + g.rng.Float64()*10).Round(4)

	return domain.PriceQuote{
		Exchange:     g.cfg.Exchange,
		Symbol:       symbol,
		Bid:          bid.Round(6),
		Ask:          ask.Round(6),
		BidLiquidity: bidDepth,
		AskLiquidity: askDepth,
		ObservedAt:   now.UTC(),
	}
}

// Compile-time interface check.
var _ Connector = (*Generator)(nil)
