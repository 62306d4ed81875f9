package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuote        = errors.New("invalid quote")
	ErrNotFound            = errors.New("opportunity not found")
	ErrAlreadyClaimed      = errors.New("opportunity already claimed")
	ErrExpiredOpportunity  = errors.New("opportunity expired")
	ErrConcurrentExecution = errors.New("execution already in flight for pair")
	ErrLockHeld            = errors.New("lock already held")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnknownExchange     = errors.New("unknown exchange")
)

// PartialFillError reports a buy leg that failed before filling completely.
// The attempt is abandoned; any unfilled remainder has been cancelled.
type PartialFillError struct {
	OrderRef  string
	Requested decimal.Decimal
	Filled    decimal.Decimal
}

func (e *PartialFillError) Error() string {
	return fmt.Sprintf("partial fill on order %s: filled %s of %s",
		e.OrderRef, e.Filled.String(), e.Requested.String())
}

// StrandedPositionError reports a sell leg that failed after the buy leg
// filled. The bought asset is held on the buy exchange and requires manual
// intervention; the engine never retries the sell.
type StrandedPositionError struct {
	Exchange   string
	Symbol     string
	OrderRef   string
	HeldAmount decimal.Decimal
	Cause      error
}

func (e *StrandedPositionError) Error() string {
	return fmt.Sprintf("stranded position: holding %s %s on %s after sell leg failed: %v",
		e.HeldAmount.String(), e.Symbol, e.Exchange, e.Cause)
}

func (e *StrandedPositionError) Unwrap() error { return e.Cause }

// NegativeRealizedProfitError flags an execution whose realized profit turned
// negative after slippage and fees. It is recorded for auditing; the position
// is not reversed.
type NegativeRealizedProfitError struct {
	AttemptID      string
	RealizedProfit decimal.Decimal
}

func (e *NegativeRealizedProfitError) Error() string {
	return fmt.Sprintf("attempt %s realized negative profit %s",
		e.AttemptID, e.RealizedProfit.String())
}
