// Package feed normalizes per-exchange quote streams into the engine's common
// schema. The Adapter validates each quote, replaces the previous quote for
// the same (exchange, symbol), and fans the change out to subscribers.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/avolkov/arbengine/internal/domain"
)

// Adapter is the market data ingress. Quotes arrive independently and
// asynchronously per exchange; no cross-exchange ordering is assumed, and
// consumers must tolerate partially stale pairs.
type Adapter struct {
	book   *QuoteBook
	cache  domain.QuoteCache // optional mirror for external consumers
	bus    domain.SignalBus  // optional live event publication
	logger *slog.Logger

	mu   sync.RWMutex
	subs []chan domain.QuoteChange
}

// NewAdapter creates an Adapter that owns the given quote book. cache and bus
// may be nil (paper mode, tests).
func NewAdapter(book *QuoteBook, cache domain.QuoteCache, bus domain.SignalBus, logger *slog.Logger) *Adapter {
	return &Adapter{
		book:   book,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "feed_adapter")),
	}
}

// Book returns the quote book handle for read access by the detector.
func (a *Adapter) Book() *QuoteBook {
	return a.book
}

// Subscribe registers a consumer for quote change notifications. The returned
// channel is buffered; slow consumers drop notifications rather than blocking
// ingestion.
func (a *Adapter) Subscribe(buffer int) <-chan domain.QuoteChange {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan domain.QuoteChange, buffer)
	a.mu.Lock()
	a.subs = append(a.subs, ch)
	a.mu.Unlock()
	return ch
}

// Ingest validates the quote, replaces the last known quote for its
// (exchange, symbol), and publishes a change notification. Malformed quotes
// are rejected with domain.ErrInvalidQuote and do not affect other symbols.
func (a *Adapter) Ingest(ctx context.Context, quote domain.PriceQuote) error {
	if err := quote.Validate(); err != nil {
		a.logger.WarnContext(ctx, "quote rejected",
			slog.String("exchange", quote.Exchange),
			slog.String("symbol", quote.Symbol),
			slog.String("error", err.Error()),
		)
		return err
	}

	a.book.Replace(quote)

	if a.cache != nil {
		if err := a.cache.SetQuote(ctx, quote); err != nil {
			a.logger.WarnContext(ctx, "quote cache update failed",
				slog.String("key", quote.Key()),
				slog.String("error", err.Error()),
			)
		}
	}

	change := domain.QuoteChange{
		Exchange: quote.Exchange,
		Symbol:   quote.Symbol,
		Quote:    quote,
	}

	a.mu.RLock()
	for _, ch := range a.subs {
		select {
		case ch <- change:
		default:
			a.logger.Warn("dropping quote change for slow subscriber",
				slog.String("key", quote.Key()),
			)
		}
	}
	a.mu.RUnlock()

	if a.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":    "quote",
			"exchange": quote.Exchange,
			"symbol":   quote.Symbol,
			"bid":      quote.Bid,
			"ask":      quote.Ask,
			"ts":       quote.ObservedAt,
		})
		if err := a.bus.Publish(ctx, "quotes", evt); err != nil {
			a.logger.WarnContext(ctx, "quote publish failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Close closes all subscriber channels. Call only after all producers have
// stopped.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subs {
		close(ch)
	}
	a.subs = nil
}
