package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

// quoteTTL expires mirrored quotes that stop refreshing; external consumers
// should never read a quote from a dead feed.
const quoteTTL = 30 * time.Second

// QuoteCache mirrors the latest quote per (exchange, symbol) into Redis
// hashes for out-of-process consumers. Prices are stored as decimal strings
// to avoid float drift across the wire. Key layout: "quote:{exchange}:{symbol}".
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(exchange, symbol string) string {
	return "quote:" + exchange + ":" + symbol
}

// SetQuote stores the quote and refreshes its TTL.
func (qc *QuoteCache) SetQuote(ctx context.Context, quote domain.PriceQuote) error {
	key := quoteKey(quote.Exchange, quote.Symbol)
	fields := map[string]interface{}{
		"bid":     quote.Bid.String(),
		"ask":     quote.Ask.String(),
		"bid_liq": quote.BidLiquidity.String(),
		"ask_liq": quote.AskLiquidity.String(),
		"ts":      strconv.FormatInt(quote.ObservedAt.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", key, err)
	}
	return nil
}

// GetQuote retrieves the mirrored quote. It returns domain.ErrNotFound when
// the key does not exist or has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, exchange, symbol string) (domain.PriceQuote, error) {
	key := quoteKey(exchange, symbol)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", key, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	quote := domain.PriceQuote{Exchange: exchange, Symbol: symbol}
	if quote.Bid, err = decimal.NewFromString(vals["bid"]); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse bid for %s: %w", key, err)
	}
	if quote.Ask, err = decimal.NewFromString(vals["ask"]); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse ask for %s: %w", key, err)
	}
	if quote.BidLiquidity, err = decimal.NewFromString(vals["bid_liq"]); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse bid liquidity for %s: %w", key, err)
	}
	if quote.AskLiquidity, err = decimal.NewFromString(vals["ask_liq"]); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse ask liquidity for %s: %w", key, err)
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse ts for %s: %w", key, err)
	}
	quote.ObservedAt = time.Unix(0, tsNano).UTC()
	return quote, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
