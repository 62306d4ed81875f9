// Package detector evaluates cross-exchange quote pairs and maintains the
// live opportunity set in the registry.
package detector

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/feed"
	"github.com/avolkov/arbengine/internal/registry"
)

// Config tunes detection thresholds. All percentages are fractions
// (0.005 = 0.5%).
type Config struct {
	MinSpreadPct     float64
	MinNetProfitUSD  float64
	OpportunityTTL   time.Duration
	VolatilityPct    float64 // spread above this is suspicious, scored HIGH
	StalenessBound   time.Duration
	LiquidityFloor   float64
	DefaultFeeBps    float64
	FeeBpsByExchange map[string]float64
	ExecTimeEstimate time.Duration
	Workers          int
}

// Defaults returns detection thresholds suitable for paper trading.
func Defaults() Config {
	return Config{
		MinSpreadPct:     0.001,
		MinNetProfitUSD:  0,
		OpportunityTTL:   3 * time.Second,
		VolatilityPct:    0.05,
		StalenessBound:   2 * time.Second,
		LiquidityFloor:   1,
		DefaultFeeBps:    10,
		ExecTimeEstimate: 500 * time.Millisecond,
		Workers:          4,
	}
}

// Detector consumes quote changes and re-evaluates every exchange pair for the
// changed symbol. Work is partitioned across workers by symbol hash so that
// evaluations for one symbol are serialized while distinct symbols proceed in
// parallel.
type Detector struct {
	cfg    Config
	book   *feed.QuoteBook
	reg    *registry.Registry
	gas    domain.GasEstimator // optional
	logger *slog.Logger

	minSpreadPct   decimal.Decimal
	minNetProfit   decimal.Decimal
	volatilityPct  decimal.Decimal
	liquidityFloor decimal.Decimal
}

// New creates a detector reading quotes from book and writing opportunities
// to reg. gas may be nil; gas cost is then treated as zero.
func New(cfg Config, book *feed.QuoteBook, reg *registry.Registry, gas domain.GasEstimator, logger *slog.Logger) *Detector {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Detector{
		cfg:            cfg,
		book:           book,
		reg:            reg,
		gas:            gas,
		logger:         logger.With(slog.String("component", "detector")),
		minSpreadPct:   decimal.NewFromFloat(cfg.MinSpreadPct),
		minNetProfit:   decimal.NewFromFloat(cfg.MinNetProfitUSD),
		volatilityPct:  decimal.NewFromFloat(cfg.VolatilityPct),
		liquidityFloor: decimal.NewFromFloat(cfg.LiquidityFloor),
	}
}

// Run fans quote changes out to the worker pool and blocks until ctx is
// cancelled or the changes channel closes.
func (d *Detector) Run(ctx context.Context, changes <-chan domain.QuoteChange) error {
	lanes := make([]chan domain.QuoteChange, d.cfg.Workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan domain.QuoteChange, 256)
		wg.Add(1)
		go func(lane <-chan domain.QuoteChange) {
			defer wg.Done()
			for change := range lane {
				d.EvaluateSymbol(ctx, change.Symbol)
			}
		}(lanes[i])
	}

	d.logger.Info("detector started", slog.Int("workers", d.cfg.Workers))
	defer d.logger.Info("detector stopped")

	for {
		select {
		case <-ctx.Done():
			for _, lane := range lanes {
				close(lane)
			}
			wg.Wait()
			return ctx.Err()
		case change, ok := <-changes:
			if !ok {
				for _, lane := range lanes {
					close(lane)
				}
				wg.Wait()
				return nil
			}
			lanes[d.laneFor(change.Symbol)] <- change
		}
	}
}

func (d *Detector) laneFor(symbol string) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32()) % d.cfg.Workers
}

// EvaluateSymbol re-evaluates every ordered exchange pair quoting symbol.
// Pairs whose spread closed are invalidated in the registry.
func (d *Detector) EvaluateSymbol(ctx context.Context, symbol string) {
	quotes := d.book.SymbolQuotes(symbol)
	if len(quotes) < 2 {
		return
	}
	now := time.Now().UTC()
	for _, buy := range quotes {
		for _, sell := range quotes {
			if buy.Exchange == sell.Exchange {
				continue
			}
			opp, ok := d.evaluatePair(ctx, buy, sell, now)
			if !ok {
				d.reg.Invalidate(symbol, buy.Exchange, sell.Exchange)
				continue
			}
			if d.reg.Upsert(opp) {
				d.logger.Debug("opportunity upserted",
					slog.String("symbol", symbol),
					slog.String("buy", buy.Exchange),
					slog.String("sell", sell.Exchange),
					slog.String("spread_pct", opp.SpreadPct.StringFixed(6)),
					slog.String("net_profit", opp.NetProfit.StringFixed(4)),
				)
			}
		}
	}
}

// evaluatePair checks a single buy/sell direction: profitable when the buy
// exchange's ask sits below the sell exchange's bid.
func (d *Detector) evaluatePair(ctx context.Context, buy, sell domain.PriceQuote, now time.Time) (domain.ArbitrageOpportunity, bool) {
	if !buy.Ask.LessThan(sell.Bid) {
		return domain.ArbitrageOpportunity{}, false
	}

	spread := sell.Bid.Sub(buy.Ask)
	spreadPct := spread.Div(buy.Ask)
	if spreadPct.LessThan(d.minSpreadPct) {
		return domain.ArbitrageOpportunity{}, false
	}

	amount := buy.AskLiquidity
	if sell.BidLiquidity.LessThan(amount) {
		amount = sell.BidLiquidity
	}
	if amount.Sign() <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	var gasFee decimal.Decimal
	if d.gas != nil {
		fee, err := d.gas.EstimateGasFeeUSD(ctx, buy.Symbol)
		if err != nil {
			d.logger.Warn("gas estimate failed, assuming zero",
				slog.String("symbol", buy.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			gasFee = fee
		}
	}

	buyFee := buy.Ask.Mul(amount).Mul(d.feeRate(buy.Exchange))
	sellFee := sell.Bid.Mul(amount).Mul(d.feeRate(sell.Exchange))
	netProfit := spread.Mul(amount).Sub(gasFee).Sub(buyFee).Sub(sellFee)
	if netProfit.LessThanOrEqual(d.minNetProfit) {
		return domain.ArbitrageOpportunity{}, false
	}

	return domain.ArbitrageOpportunity{
		ID:               uuid.New().String(),
		Symbol:           buy.Symbol,
		BuyExchange:      buy.Exchange,
		SellExchange:     sell.Exchange,
		BuyPrice:         buy.Ask,
		SellPrice:        sell.Bid,
		Spread:           spread,
		SpreadPct:        spreadPct,
		NetProfit:        netProfit,
		RiskLevel:        d.scoreRisk(buy, sell, spreadPct, amount, now),
		LiquidityBuy:     buy.AskLiquidity,
		LiquiditySell:    sell.BidLiquidity,
		GasFeeEstimate:   gasFee,
		ExecTimeEstimate: d.cfg.ExecTimeEstimate,
		CreatedAt:        now,
		ExpiresAt:        now.Add(d.cfg.OpportunityTTL),
	}, true
}

// scoreRisk classifies an opportunity. An implausibly wide spread or a stale
// leg means the quote likely moved already; thin liquidity raises slippage
// exposure.
func (d *Detector) scoreRisk(buy, sell domain.PriceQuote, spreadPct, amount decimal.Decimal, now time.Time) domain.RiskLevel {
	if spreadPct.GreaterThan(d.volatilityPct) {
		return domain.RiskHigh
	}
	if buy.Age(now) > d.cfg.StalenessBound || sell.Age(now) > d.cfg.StalenessBound {
		return domain.RiskHigh
	}
	if amount.LessThan(d.liquidityFloor) {
		return domain.RiskMedium
	}
	return domain.RiskLow
}

func (d *Detector) feeRate(exchange string) decimal.Decimal {
	bps := d.cfg.DefaultFeeBps
	if v, ok := d.cfg.FeeBpsByExchange[exchange]; ok {
		bps = v
	}
	return decimal.NewFromFloat(bps).Div(decimal.NewFromInt(10000))
}
