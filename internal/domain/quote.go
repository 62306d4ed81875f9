// Package domain defines the core data model of the arbitrage engine: quotes,
// opportunities, execution attempts, and the interfaces implemented by the
// cache, store, and gateway adapters.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one exchange's view of a symbol at a point in time. Quotes are
// immutable once produced; a newer quote for the same (exchange, symbol)
// supersedes the previous one.
type PriceQuote struct {
	Exchange     string
	Symbol       string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	BidLiquidity decimal.Decimal
	AskLiquidity decimal.Decimal
	ObservedAt   time.Time
}

// Key returns the identity of the quote's slot in the quote book.
func (q PriceQuote) Key() string {
	return q.Exchange + ":" + q.Symbol
}

// Age returns how stale the quote is relative to now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Validate rejects malformed quotes at ingress. A crossed book (bid above ask)
// or negative liquidity is a connector bug, not a market condition.
func (q PriceQuote) Validate() error {
	if q.Exchange == "" || q.Symbol == "" {
		return fmt.Errorf("%w: missing exchange or symbol", ErrInvalidQuote)
	}
	if q.Bid.Sign() <= 0 || q.Ask.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive price (bid=%s ask=%s)", ErrInvalidQuote, q.Bid, q.Ask)
	}
	if q.Bid.GreaterThan(q.Ask) {
		return fmt.Errorf("%w: bid %s above ask %s", ErrInvalidQuote, q.Bid, q.Ask)
	}
	if q.BidLiquidity.Sign() < 0 || q.AskLiquidity.Sign() < 0 {
		return fmt.Errorf("%w: negative liquidity", ErrInvalidQuote)
	}
	return nil
}

// QuoteChange notifies consumers that the quote for (exchange, symbol) was
// replaced.
type QuoteChange struct {
	Exchange string
	Symbol   string
	Quote    PriceQuote
}
