// Package paper simulates an exchange for paper-trading mode: orders fill
// instantly at the requested price with a configurable fee, no capital moves.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

// Gateway is an in-process exchange simulator. Safe for concurrent use.
type Gateway struct {
	name   string
	feeBps int64
	logger *slog.Logger

	mu     sync.Mutex
	seq    int
	orders map[string]domain.OrderState
}

// New creates a paper gateway named after the exchange it stands in for.
// feeBps is charged on each fill's notional.
func New(name string, feeBps int64, logger *slog.Logger) *Gateway {
	return &Gateway{
		name:   name,
		feeBps: feeBps,
		logger: logger.With(slog.String("component", "paper_gateway"), slog.String("exchange", name)),
		orders: make(map[string]domain.OrderState),
	}
}

func feeRate(bps int64) decimal.Decimal {
	return decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
}

// Name returns the simulated exchange identifier.
func (g *Gateway) Name() string { return g.name }

// PlaceOrder fills the order immediately at the requested price.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderAck{}, err
	}

	g.mu.Lock()
	g.seq++
	ref := fmt.Sprintf("paper-%s-%d", g.name, g.seq)

	notional := req.Price.Mul(req.Amount)
	fee := notional.Mul(feeRate(g.feeBps))
	g.orders[ref] = domain.OrderState{
		OrderRef:     ref,
		Status:       domain.OrderStatusFilled,
		FilledAmount: req.Amount,
		AvgFillPrice: req.Price,
		FeePaid:      fee,
	}
	g.mu.Unlock()

	g.logger.Debug("paper order filled",
		slog.String("order_ref", ref),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("amount", req.Amount.String()),
	)
	return domain.OrderAck{OrderRef: ref, Status: domain.OrderStatusFilled}, nil
}

// CancelOrder is a no-op for already-filled paper orders.
func (g *Gateway) CancelOrder(ctx context.Context, orderRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[orderRef]; !ok {
		return fmt.Errorf("paper order %s: %w", orderRef, domain.ErrNotFound)
	}
	return nil
}

// OrderStatus returns the recorded state of a paper order.
func (g *Gateway) OrderStatus(ctx context.Context, orderRef string) (domain.OrderState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.orders[orderRef]
	if !ok {
		return domain.OrderState{}, fmt.Errorf("paper order %s: %w", orderRef, domain.ErrNotFound)
	}
	return st, nil
}

var _ domain.OrderGateway = (*Gateway)(nil)
