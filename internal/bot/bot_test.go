package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/registry"
)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, opportunityID string) (domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opportunityID)
	if f.err != nil {
		return domain.ExecutionResult{}, f.err
	}
	return domain.ExecutionResult{
		AttemptID:      uuid.New().String(),
		OpportunityID:  opportunityID,
		State:          domain.ExecCompleted,
		RealizedProfit: decimal.NewFromInt(5),
	}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func opportunity(risk domain.RiskLevel, profit int64) domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	return domain.ArbitrageOpportunity{
		ID:            uuid.New().String(),
		Symbol:        "BTC-USD",
		BuyExchange:   "binance",
		SellExchange:  "okx",
		BuyPrice:      decimal.NewFromInt(100),
		SellPrice:     decimal.NewFromInt(102),
		Spread:        decimal.NewFromInt(2),
		NetProfit:     decimal.NewFromInt(profit),
		RiskLevel:     risk,
		LiquidityBuy:  decimal.NewFromInt(5),
		LiquiditySell: decimal.NewFromInt(5),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
	}
}

// run feeds the given events through a Trader and returns after Run exits.
func run(t *testing.T, trader *Trader, events ...registry.Event) {
	t.Helper()
	ch := make(chan registry.Event, len(events))
	for _, evt := range events {
		ch <- evt
	}
	close(ch)

	if err := trader.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestTraderExecutesEligibleOpportunity(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)})

	if exec.callCount() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.callCount())
	}
	stats := trader.Stats()
	if stats.Dispatched != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v, want 1 dispatched / 1 completed", stats)
	}
}

func TestTraderSkipsAboveMaxRisk(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{MaxRisk: domain.RiskLow}, exec, testLogger())

	run(t, trader,
		registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskMedium, 10)},
		registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskHigh, 10)},
	)

	if exec.callCount() != 0 {
		t.Fatalf("executor called %d times, want 0", exec.callCount())
	}
	if stats := trader.Stats(); stats.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", stats.Skipped)
	}
}

func TestTraderMediumRiskAllowedWhenConfigured(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{MaxRisk: domain.RiskMedium}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskMedium, 10)})

	if exec.callCount() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.callCount())
	}
}

func TestTraderAppliesProfitFloor(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{MinNetProfitUSD: decimal.NewFromInt(20)}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)})

	if exec.callCount() != 0 {
		t.Fatalf("executor called %d times, want 0", exec.callCount())
	}
}

func TestTraderSymbolFilter(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{Symbols: []string{"ETH-USD"}}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)})

	if exec.callCount() != 0 {
		t.Fatalf("executor called %d times, want 0 (BTC-USD not allowed)", exec.callCount())
	}

	eth := opportunity(domain.RiskLow, 10)
	eth.Symbol = "ETH-USD"
	run(t, trader, registry.Event{Kind: "created", Opportunity: eth})

	if exec.callCount() != 1 {
		t.Fatalf("executor called %d times, want 1", exec.callCount())
	}
}

func TestTraderPairCooldown(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{PairCooldown: time.Hour}, exec, testLogger())

	// Same pair key twice within the cooldown window.
	run(t, trader,
		registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)},
		registry.Event{Kind: "updated", Opportunity: opportunity(domain.RiskLow, 12)},
	)

	if exec.callCount() != 1 {
		t.Fatalf("executor called %d times, want 1 (cooldown)", exec.callCount())
	}
}

func TestTraderIgnoresLifecycleEvents(t *testing.T) {
	exec := &fakeExecutor{}
	trader := New(Config{}, exec, testLogger())

	run(t, trader,
		registry.Event{Kind: "claimed", Opportunity: opportunity(domain.RiskLow, 10)},
		registry.Event{Kind: "expired", Opportunity: opportunity(domain.RiskLow, 10)},
		registry.Event{Kind: "invalidated", Opportunity: opportunity(domain.RiskLow, 10)},
	)

	if exec.callCount() != 0 {
		t.Fatalf("executor called %d times, want 0", exec.callCount())
	}
}

func TestTraderLostRaceCountsAsSkip(t *testing.T) {
	exec := &fakeExecutor{err: domain.ErrAlreadyClaimed}
	trader := New(Config{}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)})

	stats := trader.Stats()
	if stats.Failed != 0 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v, want skip not failure", stats)
	}
}

func TestTraderGatewayErrorCountsAsFailure(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("gateway unreachable")}
	trader := New(Config{}, exec, testLogger())

	run(t, trader, registry.Event{Kind: "created", Opportunity: opportunity(domain.RiskLow, 10)})

	if stats := trader.Stats(); stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
}
