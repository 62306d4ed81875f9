package detector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
	"github.com/avolkov/arbengine/internal/feed"
	"github.com/avolkov/arbengine/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(exchange, symbol string, bid, ask, liq float64) domain.PriceQuote {
	return domain.PriceQuote{
		Exchange:     exchange,
		Symbol:       symbol,
		Bid:          decimal.NewFromFloat(bid),
		Ask:          decimal.NewFromFloat(ask),
		BidLiquidity: decimal.NewFromFloat(liq),
		AskLiquidity: decimal.NewFromFloat(liq),
		ObservedAt:   time.Now().UTC(),
	}
}

func setup(cfg Config) (*feed.QuoteBook, *registry.Registry, *Detector) {
	book := feed.NewQuoteBook()
	reg := registry.New(testLogger())
	return book, reg, New(cfg, book, reg, nil, testLogger())
}

func feedQuotes(t *testing.T, book *feed.QuoteBook, quotes ...domain.PriceQuote) {
	t.Helper()
	for _, q := range quotes {
		if err := q.Validate(); err != nil {
			t.Fatalf("bad fixture %s: %v", q.Key(), err)
		}
		book.Replace(q)
	}
}

func TestDetectsCrossExchangeSpread(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	book, reg, d := setup(cfg)

	// binance asks 101, okx bids 103: buy on binance, sell on okx.
	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 5),
		quote("okx", "BTC-USD", 103, 104, 5),
	)
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	opps := reg.List()
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	opp := opps[0]
	if opp.BuyExchange != "binance" || opp.SellExchange != "okx" {
		t.Fatalf("wrong direction: buy %s sell %s", opp.BuyExchange, opp.SellExchange)
	}
	if !opp.Spread.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected spread 2, got %s", opp.Spread)
	}
	// 2/101 ≈ 0.0198
	wantPct := decimal.NewFromInt(2).Div(decimal.NewFromInt(101))
	if !opp.SpreadPct.Equal(wantPct) {
		t.Fatalf("expected spread pct %s, got %s", wantPct, opp.SpreadPct)
	}
	// spread 2 * amount 5, no fees, no gas
	if !opp.NetProfit.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected net profit 10, got %s", opp.NetProfit)
	}
	if opp.RiskLevel != domain.RiskLow {
		t.Fatalf("expected LOW risk, got %s", opp.RiskLevel)
	}
}

func TestNoOpportunityWhenBooksOverlap(t *testing.T) {
	book, reg, d := setup(Defaults())

	// No ask sits below the other exchange's bid in either direction.
	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 5),
		quote("okx", "BTC-USD", 100.5, 101.5, 5),
	)
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	if got := reg.Len(); got != 0 {
		t.Fatalf("expected empty registry, got %d entries", got)
	}
}

func TestFeesCanKillAnOpportunity(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 200 // 2% per leg eats a ~2% spread
	book, reg, d := setup(cfg)

	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 5),
		quote("okx", "BTC-USD", 103, 104, 5),
	)
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	if got := reg.Len(); got != 0 {
		t.Fatalf("fees should make this unprofitable, got %d entries", got)
	}
}

func TestSpreadClosingInvalidatesEntry(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	book, reg, d := setup(cfg)
	ctx := context.Background()

	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 5),
		quote("okx", "BTC-USD", 103, 104, 5),
	)
	d.EvaluateSymbol(ctx, "BTC-USD")
	if reg.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", reg.Len())
	}

	// binance ask rises above okx bid: spread closed.
	feedQuotes(t, book, quote("binance", "BTC-USD", 103, 104, 5))
	d.EvaluateSymbol(ctx, "BTC-USD")
	if reg.Len() != 0 {
		t.Fatalf("closed spread must be invalidated, got %d entries", reg.Len())
	}
}

func TestStaleQuoteScoresHighRisk(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	cfg.StalenessBound = 50 * time.Millisecond
	book, reg, d := setup(cfg)

	stale := quote("binance", "BTC-USD", 100, 101, 5)
	stale.ObservedAt = time.Now().UTC().Add(-time.Second)
	feedQuotes(t, book, stale, quote("okx", "BTC-USD", 103, 104, 5))
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	opps := reg.List()
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].RiskLevel != domain.RiskHigh {
		t.Fatalf("expected HIGH risk for stale leg, got %s", opps[0].RiskLevel)
	}
}

func TestThinLiquidityScoresMediumRisk(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	cfg.LiquidityFloor = 10
	book, reg, d := setup(cfg)

	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 2),
		quote("okx", "BTC-USD", 103, 104, 2),
	)
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	opps := reg.List()
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].RiskLevel != domain.RiskMedium {
		t.Fatalf("expected MEDIUM risk for thin book, got %s", opps[0].RiskLevel)
	}
}

func TestImplausibleSpreadScoresHighRisk(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	cfg.VolatilityPct = 0.01
	book, reg, d := setup(cfg)

	feedQuotes(t, book,
		quote("binance", "BTC-USD", 100, 101, 5),
		quote("okx", "BTC-USD", 110, 111, 5), // ~8.9% spread
	)
	d.EvaluateSymbol(context.Background(), "BTC-USD")

	opps := reg.List()
	if len(opps) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(opps))
	}
	if opps[0].RiskLevel != domain.RiskHigh {
		t.Fatalf("expected HIGH risk for outsized spread, got %s", opps[0].RiskLevel)
	}
}

func TestThreeExchangesEvaluateAllDirections(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultFeeBps = 0
	book, reg, d := setup(cfg)

	feedQuotes(t, book,
		quote("binance", "ETH-USD", 100, 101, 5),
		quote("okx", "ETH-USD", 103, 104, 5),
		quote("kraken", "ETH-USD", 106, 107, 5),
	)
	d.EvaluateSymbol(context.Background(), "ETH-USD")

	// binance->okx, binance->kraken, okx->kraken.
	if got := reg.Len(); got != 3 {
		t.Fatalf("expected 3 opportunities, got %d", got)
	}
}
