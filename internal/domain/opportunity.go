package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel classifies an opportunity's execution risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// ArbitrageOpportunity is a detected cross-exchange price spread: buy on one
// exchange at its ask, sell on another at its bid. Instances are immutable;
// a re-detection for the same (symbol, buy, sell) key supersedes the previous
// instance with a fresh ID.
type ArbitrageOpportunity struct {
	ID               string
	Symbol           string
	BuyExchange      string
	SellExchange     string
	BuyPrice         decimal.Decimal // buy exchange ask
	SellPrice        decimal.Decimal // sell exchange bid
	Spread           decimal.Decimal // SellPrice - BuyPrice
	SpreadPct        decimal.Decimal // Spread / BuyPrice
	NetProfit        decimal.Decimal // after exchange fees and gas
	RiskLevel        RiskLevel
	LiquidityBuy     decimal.Decimal // size available at the buy ask
	LiquiditySell    decimal.Decimal // size available at the sell bid
	GasFeeEstimate   decimal.Decimal
	ExecTimeEstimate time.Duration
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// PairKey is the deduplication key: one live opportunity per
// (symbol, buy exchange, sell exchange).
func (o ArbitrageOpportunity) PairKey() string {
	return o.Symbol + "|" + o.BuyExchange + "|" + o.SellExchange
}

// PairKeyOf builds a deduplication key without an opportunity value.
func PairKeyOf(symbol, buyExchange, sellExchange string) string {
	return symbol + "|" + buyExchange + "|" + sellExchange
}

// Expired reports whether the opportunity is past its expiry at the given time.
func (o ArbitrageOpportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// TradableAmount is the size both legs can absorb.
func (o ArbitrageOpportunity) TradableAmount() decimal.Decimal {
	if o.LiquidityBuy.LessThan(o.LiquiditySell) {
		return o.LiquidityBuy
	}
	return o.LiquiditySell
}
