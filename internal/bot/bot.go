// Package bot contains the auto-trader: it watches the live opportunity
// registry and hands eligible opportunities to the execution coordinator.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/registry"
)

// Executor runs the two-leg execution for one claimed opportunity. The
// execution coordinator implements this.
type Executor interface {
	Execute(ctx context.Context, opportunityID string) (domain.ExecutionResult, error)
}

// Config holds the trading policy.
type Config struct {
	// MaxRisk is the highest risk level the trader will act on.
	MaxRisk domain.RiskLevel

	// MinNetProfitUSD is the trader's own profit floor, applied on top of the
	// detector's. Zero disables the extra filter.
	MinNetProfitUSD decimal.Decimal

	// Symbols restricts trading to these symbols. Empty means all symbols.
	Symbols []string

	// PairCooldown suppresses repeat executions of the same pair key for this
	// long after an attempt starts.
	PairCooldown time.Duration

	// MaxConcurrent bounds in-flight executions across all pairs.
	MaxConcurrent int
}

// Defaults fills zero fields with conservative values.
func (c Config) Defaults() Config {
	if c.MaxRisk == "" {
		c.MaxRisk = domain.RiskLow
	}
	if c.PairCooldown <= 0 {
		c.PairCooldown = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Stats is a snapshot of trader activity since start.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Skipped    int64 `json:"skipped"`
	Failed     int64 `json:"failed"`
}

// Trader consumes registry events and dispatches eligible opportunities to
// the executor. Per-pair serialization and claim semantics live in the
// registry and coordinator; the trader only decides what is worth trading.
type Trader struct {
	cfg      Config
	executor Executor
	logger   *slog.Logger

	symbols  map[string]bool // nil means all symbols

	mu       sync.Mutex
	lastPair map[string]time.Time
	stats    Stats
}

// New creates a Trader with the given policy.
func New(cfg Config, executor Executor, logger *slog.Logger) *Trader {
	t := &Trader{
		cfg:      cfg.Defaults(),
		executor: executor,
		logger:   logger.With(slog.String("component", "trader")),
		lastPair: make(map[string]time.Time),
	}
	if len(cfg.Symbols) > 0 {
		t.symbols = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			t.symbols[s] = true
		}
	}
	return t
}

// Stats returns a snapshot of trader counters.
func (t *Trader) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Run consumes registry events until ctx is done or the channel closes.
// In-flight executions are waited for before Run returns.
func (t *Trader) Run(ctx context.Context, events <-chan registry.Event) error {
	t.logger.Info("trader started",
		slog.String("max_risk", string(t.cfg.MaxRisk)),
		slog.Int("max_concurrent", t.cfg.MaxConcurrent),
	)

	slots := make(chan struct{}, t.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if evt.Kind != "created" && evt.Kind != "updated" {
				continue
			}
			if !t.eligible(evt.Opportunity) {
				t.count(func(s *Stats) { s.Skipped++ })
				continue
			}

			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

			wg.Add(1)
			go func(opp domain.ArbitrageOpportunity) {
				defer wg.Done()
				defer func() { <-slots }()
				t.execute(ctx, opp)
			}(evt.Opportunity)
		}
	}
}

// eligible applies the trading policy and the per-pair cooldown. A passing
// opportunity immediately stamps the cooldown so concurrent events for the
// same pair are suppressed.
func (t *Trader) eligible(opp domain.ArbitrageOpportunity) bool {
	if t.symbols != nil && !t.symbols[opp.Symbol] {
		return false
	}
	if riskRank(opp.RiskLevel) > riskRank(t.cfg.MaxRisk) {
		return false
	}
	if !t.cfg.MinNetProfitUSD.IsZero() && opp.NetProfit.LessThan(t.cfg.MinNetProfitUSD) {
		return false
	}
	if opp.Expired(time.Now().UTC()) {
		return false
	}

	key := opp.PairKey()
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastPair[key]; ok && now.Sub(last) < t.cfg.PairCooldown {
		return false
	}
	t.lastPair[key] = now
	return true
}

func (t *Trader) execute(ctx context.Context, opp domain.ArbitrageOpportunity) {
	t.count(func(s *Stats) { s.Dispatched++ })

	result, err := t.executor.Execute(ctx, opp.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyClaimed),
			errors.Is(err, domain.ErrConcurrentExecution),
			errors.Is(err, domain.ErrExpiredOpportunity),
			errors.Is(err, domain.ErrNotFound):
			// Lost the race or the window closed. Routine.
			t.count(func(s *Stats) { s.Skipped++ })
			t.logger.Debug("execution not started",
				slog.String("opportunity_id", opp.ID),
				slog.String("reason", err.Error()),
			)
		default:
			t.count(func(s *Stats) { s.Failed++ })
			t.logger.Error("execution failed",
				slog.String("opportunity_id", opp.ID),
				slog.String("symbol", opp.Symbol),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	t.count(func(s *Stats) { s.Completed++ })
	t.logger.Info("execution completed",
		slog.String("opportunity_id", opp.ID),
		slog.String("attempt_id", result.AttemptID),
		slog.String("symbol", opp.Symbol),
		slog.String("realized_profit", result.RealizedProfit.String()),
		slog.Bool("profit_negative", result.ProfitNegative),
	)
}

func (t *Trader) count(fn func(*Stats)) {
	t.mu.Lock()
	fn(&t.stats)
	t.mu.Unlock()
}

// riskRank orders risk levels for threshold comparison.
func riskRank(r domain.RiskLevel) int {
	switch r {
	case domain.RiskLow:
		return 0
	case domain.RiskMedium:
		return 1
	default:
		return 2
	}
}
