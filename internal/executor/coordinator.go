// Package executor turns claimed opportunities into two-leg trades: buy on
// the cheaper exchange, then sell on the richer one. The buy leg must fill
// before the sell leg is placed; order placement is never retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/registry"
)

// Config tunes execution behavior.
type Config struct {
	LegTimeout   time.Duration // per-leg deadline covering placement and fill
	PollInterval time.Duration // order status poll cadence
	MaxAmount    float64       // position size cap in base units, 0 = uncapped
	LockTTL      time.Duration // per-pair execution guard TTL
}

// Defaults returns conservative execution settings.
func Defaults() Config {
	return Config{
		LegTimeout:   5 * time.Second,
		PollInterval: 100 * time.Millisecond,
		LockTTL:      30 * time.Second,
	}
}

// Recorder receives completed attempts for the observability egress. The
// coordinator never blocks on it.
type Recorder interface {
	RecordExecution(ctx context.Context, attempt domain.ExecutionAttempt)
}

// Coordinator serializes execution per (symbol, buy, sell) pair and walks each
// attempt through the buy-then-sell state machine.
type Coordinator struct {
	cfg      Config
	reg      *registry.Registry
	gateways map[string]domain.OrderGateway
	locks    domain.LockManager
	attempts *AttemptRegistry
	store    domain.ExecutionStore // optional persistence
	recorder Recorder              // optional egress
	logger   *slog.Logger
}

// New creates a coordinator. store and recorder may be nil.
func New(
	cfg Config,
	reg *registry.Registry,
	gateways map[string]domain.OrderGateway,
	locks domain.LockManager,
	store domain.ExecutionStore,
	recorder Recorder,
	logger *slog.Logger,
) *Coordinator {
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 5 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Coordinator{
		cfg:      cfg,
		reg:      reg,
		gateways: gateways,
		locks:    locks,
		attempts: NewAttemptRegistry(),
		store:    store,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "coordinator")),
	}
}

// Attempts exposes the attempt registry for fill-event reconciliation.
func (c *Coordinator) Attempts() *AttemptRegistry {
	return c.attempts
}

// Execute claims the opportunity and runs both legs. At most one execution per
// (symbol, buy, sell) pair runs at a time; a second caller for the same pair
// gets ErrConcurrentExecution while the claim itself stays race-free through
// the registry.
func (c *Coordinator) Execute(ctx context.Context, opportunityID string) (domain.ExecutionResult, error) {
	opp, err := c.reg.Get(opportunityID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	unlock, err := c.locks.Acquire(ctx, "exec:"+opp.PairKey(), c.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.ExecutionResult{}, fmt.Errorf("pair %s: %w", opp.PairKey(), domain.ErrConcurrentExecution)
		}
		return domain.ExecutionResult{}, fmt.Errorf("acquire execution lock: %w", err)
	}
	defer unlock()

	opp, err = c.reg.Claim(opportunityID)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	defer c.reg.Release(opportunityID)

	buyGW, ok := c.gateways[opp.BuyExchange]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("buy venue %s: %w", opp.BuyExchange, domain.ErrUnknownExchange)
	}
	sellGW, ok := c.gateways[opp.SellExchange]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("sell venue %s: %w", opp.SellExchange, domain.ErrUnknownExchange)
	}

	amount := opp.TradableAmount()
	if c.cfg.MaxAmount > 0 {
		if limit := decimal.NewFromFloat(c.cfg.MaxAmount); amount.GreaterThan(limit) {
			amount = limit
		}
	}

	attempt := domain.ExecutionAttempt{
		ID:              uuid.New().String(),
		OpportunityID:   opp.ID,
		Symbol:          opp.Symbol,
		BuyExchange:     opp.BuyExchange,
		SellExchange:    opp.SellExchange,
		State:           domain.ExecPending,
		RequestedAmount: amount,
		StartedAt:       time.Now().UTC(),
	}
	c.persist(ctx, attempt, true)

	log := c.logger.With(
		slog.String("attempt_id", attempt.ID),
		slog.String("opportunity_id", opp.ID),
		slog.String("symbol", opp.Symbol),
		slog.String("buy", opp.BuyExchange),
		slog.String("sell", opp.SellExchange),
	)
	log.Info("execution started", slog.String("amount", amount.String()))

	result, err := c.run(ctx, &attempt, opp, amount, buyGW, sellGW, log)

	now := time.Now().UTC()
	attempt.CompletedAt = &now
	c.persist(ctx, attempt, false)
	if c.recorder != nil {
		c.recorder.RecordExecution(ctx, attempt)
	}
	return result, err
}

func (c *Coordinator) run(
	ctx context.Context,
	attempt *domain.ExecutionAttempt,
	opp domain.ArbitrageOpportunity,
	amount decimal.Decimal,
	buyGW, sellGW domain.OrderGateway,
	log *slog.Logger,
) (domain.ExecutionResult, error) {
	// Buy leg. Any outcome short of a full fill aborts the attempt: the
	// remainder is cancelled by runLeg and the sell leg is never placed.
	buyState, err := c.runLeg(ctx, buyGW, domain.OrderRequest{
		Symbol: opp.Symbol,
		Side:   domain.OrderSideBuy,
		Price:  opp.BuyPrice,
		Amount: amount,
	}, attempt, true)
	if err != nil && buyState.OrderRef == "" {
		// Placement itself failed; no order exists on the venue.
		attempt.State = domain.ExecAborted
		attempt.Error = err.Error()
		log.Warn("buy leg failed", slog.String("error", err.Error()))
		return c.result(*attempt), err
	}
	if err != nil || buyState.FilledAmount.LessThan(amount) {
		perr := &domain.PartialFillError{
			OrderRef:  buyState.OrderRef,
			Requested: amount,
			Filled:    buyState.FilledAmount,
		}
		attempt.State = domain.ExecAborted
		attempt.FilledAmount = buyState.FilledAmount
		attempt.Error = perr.Error()
		log.Warn("buy leg did not fill, aborting",
			slog.String("filled", buyState.FilledAmount.String()),
			slog.String("error", perr.Error()),
		)
		return c.result(*attempt), perr
	}

	attempt.State = domain.ExecBuyFilled
	attempt.FilledAmount = buyState.FilledAmount
	c.persist(ctx, *attempt, false)

	return c.sellLeg(ctx, attempt, opp, buyState, sellGW, log)
}

// sellLeg disposes of the fully bought position. Any failure here, whether a
// placement error, a timeout, or a cancelled/rejected order, strands the
// position; the engine records it and never retries.
func (c *Coordinator) sellLeg(
	ctx context.Context,
	attempt *domain.ExecutionAttempt,
	opp domain.ArbitrageOpportunity,
	buyState domain.OrderState,
	sellGW domain.OrderGateway,
	log *slog.Logger,
) (domain.ExecutionResult, error) {
	sellState, err := c.runLeg(ctx, sellGW, domain.OrderRequest{
		Symbol: opp.Symbol,
		Side:   domain.OrderSideSell,
		Price:  opp.SellPrice,
		Amount: buyState.FilledAmount,
	}, attempt, false)
	if err != nil {
		serr := &domain.StrandedPositionError{
			Exchange:   opp.BuyExchange,
			Symbol:     opp.Symbol,
			OrderRef:   buyState.OrderRef,
			HeldAmount: buyState.FilledAmount,
			Cause:      err,
		}
		attempt.State = domain.ExecStranded
		attempt.Error = serr.Error()
		log.Error("sell leg failed, position stranded",
			slog.String("held_amount", buyState.FilledAmount.String()),
			slog.String("error", err.Error()),
		)
		return c.result(*attempt), serr
	}

	// Realized P&L from actual fills and fees on both legs.
	proceeds := sellState.AvgFillPrice.Mul(sellState.FilledAmount)
	cost := buyState.AvgFillPrice.Mul(buyState.FilledAmount)
	realized := proceeds.Sub(cost).Sub(buyState.FeePaid).Sub(sellState.FeePaid).Sub(opp.GasFeeEstimate)

	attempt.RealizedProfit = realized
	attempt.SlippageUSD = opp.NetProfit.Sub(realized)
	attempt.State = domain.ExecCompleted
	attempt.Error = ""

	result := c.result(*attempt)
	if realized.Sign() < 0 {
		result.ProfitNegative = true
		nerr := &domain.NegativeRealizedProfitError{AttemptID: attempt.ID, RealizedProfit: realized}
		log.Warn("execution completed at a loss", slog.String("error", nerr.Error()))
	} else {
		log.Info("execution completed",
			slog.String("realized_profit", realized.String()),
			slog.String("slippage", attempt.SlippageUSD.String()),
		)
	}
	return result, nil
}

// runLeg places one order and polls until it fills or the leg deadline
// passes. It returns a nil error only on a full terminal fill; a timeout
// (remainder cancelled) or a cancelled/rejected order is reported as an
// error alongside the last observed state.
func (c *Coordinator) runLeg(
	ctx context.Context,
	gw domain.OrderGateway,
	req domain.OrderRequest,
	attempt *domain.ExecutionAttempt,
	isBuy bool,
) (domain.OrderState, error) {
	legCtx, cancel := context.WithTimeout(ctx, c.cfg.LegTimeout)
	defer cancel()

	ack, err := gw.PlaceOrder(legCtx, req)
	if err != nil {
		return domain.OrderState{}, fmt.Errorf("place %s order on %s: %w", req.Side, gw.Name(), err)
	}

	if isBuy {
		attempt.State = domain.ExecBuyPlaced
		attempt.BuyOrderRef = ack.OrderRef
	} else {
		attempt.SellOrderRef = ack.OrderRef
	}
	c.persist(ctx, *attempt, false)

	state := domain.OrderState{OrderRef: ack.OrderRef, Status: ack.Status}
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		switch state.Status {
		case domain.OrderStatusFilled:
			return state, nil
		case domain.OrderStatusCancelled, domain.OrderStatusRejected:
			return state, fmt.Errorf("%s order %s on %s: %s", req.Side, ack.OrderRef, gw.Name(), state.Status)
		}

		select {
		case <-legCtx.Done():
			// Deadline hit with the order still open. Cancel the remainder
			// with a fresh context so shutdown does not leave a live order.
			cancelCtx, cancelFn := context.WithTimeout(context.Background(), 2*time.Second)
			if cerr := gw.CancelOrder(cancelCtx, ack.OrderRef); cerr != nil {
				c.logger.Error("cancel after leg timeout failed",
					slog.String("order_ref", ack.OrderRef),
					slog.String("error", cerr.Error()),
				)
			}
			cancelFn()
			return state, fmt.Errorf("%s order %s on %s unfilled after %s: %w",
				req.Side, ack.OrderRef, gw.Name(), c.cfg.LegTimeout, context.DeadlineExceeded)
		case <-ticker.C:
			next, serr := gw.OrderStatus(legCtx, ack.OrderRef)
			if serr != nil {
				// Status reads are retryable; keep polling until the deadline.
				continue
			}
			state = next
		}
	}
}

func (c *Coordinator) result(attempt domain.ExecutionAttempt) domain.ExecutionResult {
	return domain.ExecutionResult{
		AttemptID:      attempt.ID,
		OpportunityID:  attempt.OpportunityID,
		State:          attempt.State,
		BuyOrderRef:    attempt.BuyOrderRef,
		SellOrderRef:   attempt.SellOrderRef,
		FilledAmount:   attempt.FilledAmount,
		RealizedProfit: attempt.RealizedProfit,
		SlippageUSD:    attempt.SlippageUSD,
	}
}

// persist mirrors the attempt into the in-memory registry and, when
// configured, the execution store. Store failures are logged, not fatal.
func (c *Coordinator) persist(ctx context.Context, attempt domain.ExecutionAttempt, create bool) {
	c.attempts.Put(attempt)
	if c.store == nil {
		return
	}
	var err error
	if create {
		err = c.store.Create(ctx, attempt)
	} else {
		err = c.store.Update(ctx, attempt)
	}
	if err != nil {
		c.logger.Warn("attempt persistence failed",
			slog.String("attempt_id", attempt.ID),
			slog.String("error", err.Error()),
		)
	}
}
