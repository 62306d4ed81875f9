package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/cache/memory"
	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway fills orders instantly at the requested price unless a failure
// mode is armed.
type fakeGateway struct {
	name string

	mu          sync.Mutex
	placeErr    error
	fillAmount  *decimal.Decimal // override: fill only this much
	neverFill   bool             // order stays open until cancelled
	feePerOrder decimal.Decimal
	placed      []domain.OrderRequest
	cancelled   []string
	orders      map[string]domain.OrderState
	seq         int
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, orders: make(map[string]domain.OrderState)}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		return domain.OrderAck{}, g.placeErr
	}
	g.seq++
	ref := fmt.Sprintf("%s-%d", g.name, g.seq)
	g.placed = append(g.placed, req)

	filled := req.Amount
	status := domain.OrderStatusFilled
	if g.fillAmount != nil {
		filled = *g.fillAmount
		status = domain.OrderStatusPartial
	}
	if g.neverFill {
		filled = decimal.Zero
		status = domain.OrderStatusOpen
	}
	g.orders[ref] = domain.OrderState{
		OrderRef:     ref,
		Status:       status,
		FilledAmount: filled,
		AvgFillPrice: req.Price,
		FeePaid:      g.feePerOrder,
	}
	return domain.OrderAck{OrderRef: ref, Status: domain.OrderStatusOpen}, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, orderRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, orderRef)
	if st, ok := g.orders[orderRef]; ok && st.Status != domain.OrderStatusFilled {
		st.Status = domain.OrderStatusCancelled
		g.orders[orderRef] = st
	}
	return nil
}

func (g *fakeGateway) OrderStatus(ctx context.Context, orderRef string) (domain.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.orders[orderRef]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("order %s not found", orderRef)
	}
	return st, nil
}

var _ domain.OrderGateway = (*fakeGateway)(nil)

func liveOpp(reg *registry.Registry, netProfit float64) domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	opp := domain.ArbitrageOpportunity{
		ID:            uuid.New().String(),
		Symbol:        "BTC-USD",
		BuyExchange:   "binance",
		SellExchange:  "okx",
		BuyPrice:      decimal.NewFromInt(101),
		SellPrice:     decimal.NewFromInt(103),
		Spread:        decimal.NewFromInt(2),
		NetProfit:     decimal.NewFromFloat(netProfit),
		LiquidityBuy:  decimal.NewFromInt(5),
		LiquiditySell: decimal.NewFromInt(5),
		RiskLevel:     domain.RiskLow,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Minute),
	}
	reg.Upsert(opp)
	return opp
}

func newCoordinator(reg *registry.Registry, buy, sell domain.OrderGateway) *Coordinator {
	cfg := Defaults()
	cfg.PollInterval = time.Millisecond
	cfg.LegTimeout = 100 * time.Millisecond
	return New(cfg, reg, map[string]domain.OrderGateway{
		"binance": buy,
		"okx":     sell,
	}, memory.NewLockManager(), nil, nil, testLogger())
}

func TestExecuteHappyPath(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	sell := newFakeGateway("okx")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != domain.ExecCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	if len(buy.placed) != 1 || buy.placed[0].Side != domain.OrderSideBuy {
		t.Fatalf("unexpected buy leg: %+v", buy.placed)
	}
	if len(sell.placed) != 1 || sell.placed[0].Side != domain.OrderSideSell {
		t.Fatalf("unexpected sell leg: %+v", sell.placed)
	}
	// (103-101)*5 with no fees.
	if !res.RealizedProfit.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected realized profit 10, got %s", res.RealizedProfit)
	}
	if res.ProfitNegative {
		t.Fatal("profit should not be flagged negative")
	}
	// The slot is released for fresh detections.
	if reg.Len() != 0 {
		t.Fatalf("registry slot not released, len=%d", reg.Len())
	}
}

func TestExecuteBuyLegFailureAborts(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	buy.placeErr = errors.New("venue rejected order")
	sell := newFakeGateway("okx")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	if err == nil {
		t.Fatal("expected buy leg error")
	}
	if res.State != domain.ExecAborted {
		t.Fatalf("expected aborted, got %s", res.State)
	}
	if len(sell.placed) != 0 {
		t.Fatal("sell leg must not run when the buy leg never filled")
	}
}

func TestExecutePartialBuyFill(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	partial := decimal.NewFromInt(2)
	buy.fillAmount = &partial
	sell := newFakeGateway("okx")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	var perr *domain.PartialFillError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialFillError, got %v", err)
	}
	if !perr.Filled.Equal(partial) {
		t.Fatalf("expected filled 2, got %s", perr.Filled)
	}
	if res.State != domain.ExecAborted {
		t.Fatalf("expected aborted, got %s", res.State)
	}
	if len(buy.cancelled) != 1 {
		t.Fatalf("unfilled remainder must be cancelled, got %v", buy.cancelled)
	}
	// Abandoned, not unwound: the sell leg never runs after a partial buy.
	if len(sell.placed) != 0 {
		t.Fatalf("sell leg must not run after a partial buy fill, got %+v", sell.placed)
	}
}

func TestExecuteBuyTimeoutAbortsWithoutSell(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	buy.neverFill = true
	sell := newFakeGateway("okx")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	var perr *domain.PartialFillError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PartialFillError, got %v", err)
	}
	if !perr.Filled.IsZero() {
		t.Fatalf("expected zero fill, got %s", perr.Filled)
	}
	if res.State != domain.ExecAborted {
		t.Fatalf("expected aborted, got %s", res.State)
	}
	if len(buy.cancelled) != 1 {
		t.Fatalf("open buy order must be cancelled on timeout, got %v", buy.cancelled)
	}
	if len(sell.placed) != 0 {
		t.Fatalf("sell leg must not run after a buy timeout, got %+v", sell.placed)
	}
}

func TestExecuteSellTimeoutStrandsPosition(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	sell := newFakeGateway("okx")
	sell.neverFill = true
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	var serr *domain.StrandedPositionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StrandedPositionError on sell timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stranded cause should be the leg timeout, got %v", err)
	}
	if serr.Exchange != "binance" || !serr.HeldAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected stranded detail: %+v", serr)
	}
	if res.State != domain.ExecStranded {
		t.Fatalf("expected stranded, got %s", res.State)
	}
	// The open sell remainder is cancelled; the position is never re-sold.
	if len(sell.cancelled) != 1 {
		t.Fatalf("open sell order must be cancelled on timeout, got %v", sell.cancelled)
	}
	if got := len(sell.placed); got != 1 {
		t.Fatalf("sell must not be retried, got %d placements", got)
	}
}

func TestExecuteStrandedPosition(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	sell := newFakeGateway("okx")
	sell.placeErr = errors.New("venue unreachable")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	var serr *domain.StrandedPositionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StrandedPositionError, got %v", err)
	}
	if serr.Exchange != "binance" || !serr.HeldAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected stranded detail: %+v", serr)
	}
	if res.State != domain.ExecStranded {
		t.Fatalf("expected stranded, got %s", res.State)
	}
	// No retry: exactly one sell placement was attempted.
	if got := len(sell.placed); got != 0 {
		t.Fatalf("failed placement must not retry, got %d placements", got)
	}
}

func TestExecuteNegativeProfitFlagged(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	buy.feePerOrder = decimal.NewFromInt(8)
	sell := newFakeGateway("okx")
	sell.feePerOrder = decimal.NewFromInt(8)
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != domain.ExecCompleted {
		t.Fatalf("expected completed, got %s", res.State)
	}
	// Gross 10 minus 16 in fees.
	if !res.RealizedProfit.Equal(decimal.NewFromInt(-6)) {
		t.Fatalf("expected realized -6, got %s", res.RealizedProfit)
	}
	if !res.ProfitNegative {
		t.Fatal("negative realized profit must be flagged")
	}
}

func TestExecuteConcurrentSamePair(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	sell := newFakeGateway("okx")

	// Hold the pair lock to simulate an in-flight execution.
	locks := memory.NewLockManager()
	unlock, err := locks.Acquire(context.Background(), "exec:"+opp.PairKey(), time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer unlock()

	cfg := Defaults()
	cfg.PollInterval = time.Millisecond
	c := New(cfg, reg, map[string]domain.OrderGateway{"binance": buy, "okx": sell},
		locks, nil, nil, testLogger())

	_, err = c.Execute(context.Background(), opp.ID)
	if !errors.Is(err, domain.ErrConcurrentExecution) {
		t.Fatalf("expected ErrConcurrentExecution, got %v", err)
	}
}

func TestExecuteUnknownOpportunity(t *testing.T) {
	reg := registry.New(testLogger())
	c := newCoordinator(reg, newFakeGateway("binance"), newFakeGateway("okx"))

	_, err := c.Execute(context.Background(), uuid.New().String())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttemptRegistryResolvesOrderRefs(t *testing.T) {
	reg := registry.New(testLogger())
	opp := liveOpp(reg, 10)
	buy := newFakeGateway("binance")
	sell := newFakeGateway("okx")
	c := newCoordinator(reg, buy, sell)

	res, err := c.Execute(context.Background(), opp.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	byBuy, err := c.Attempts().GetByOrderRef(res.BuyOrderRef)
	if err != nil {
		t.Fatalf("resolve buy ref: %v", err)
	}
	bySell, err := c.Attempts().GetByOrderRef(res.SellOrderRef)
	if err != nil {
		t.Fatalf("resolve sell ref: %v", err)
	}
	if byBuy.ID != res.AttemptID || bySell.ID != res.AttemptID {
		t.Fatal("order refs must resolve to the owning attempt")
	}
}
