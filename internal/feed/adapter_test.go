package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(exchange, symbol string, bid, ask float64) domain.PriceQuote {
	return domain.PriceQuote{
		Exchange:     exchange,
		Symbol:       symbol,
		Bid:          decimal.NewFromFloat(bid),
		Ask:          decimal.NewFromFloat(ask),
		BidLiquidity: decimal.NewFromInt(10),
		AskLiquidity: decimal.NewFromInt(10),
		ObservedAt:   time.Now().UTC(),
	}
}

func TestIngestRejectsCrossedBook(t *testing.T) {
	a := NewAdapter(NewQuoteBook(), nil, nil, testLogger())

	q := quote("binance", "BTC-USD", 101, 100)
	err := a.Ingest(context.Background(), q)
	if !errors.Is(err, domain.ErrInvalidQuote) {
		t.Fatalf("expected ErrInvalidQuote, got %v", err)
	}
	if a.Book().Len() != 0 {
		t.Fatalf("rejected quote must not enter the book, len=%d", a.Book().Len())
	}
}

func TestIngestRejectsNegativeLiquidity(t *testing.T) {
	a := NewAdapter(NewQuoteBook(), nil, nil, testLogger())

	q := quote("okx", "ETH-USD", 100, 101)
	q.BidLiquidity = decimal.NewFromInt(-1)
	if err := a.Ingest(context.Background(), q); !errors.Is(err, domain.ErrInvalidQuote) {
		t.Fatalf("expected ErrInvalidQuote, got %v", err)
	}
}

func TestIngestReplacesPreviousQuote(t *testing.T) {
	a := NewAdapter(NewQuoteBook(), nil, nil, testLogger())
	ctx := context.Background()

	if err := a.Ingest(ctx, quote("binance", "BTC-USD", 100, 101)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if err := a.Ingest(ctx, quote("binance", "BTC-USD", 105, 106)); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	got, ok := a.Book().Get("binance", "BTC-USD")
	if !ok {
		t.Fatal("quote missing after ingest")
	}
	if !got.Bid.Equal(decimal.NewFromInt(105)) {
		t.Fatalf("expected latest bid 105, got %s", got.Bid)
	}
	if a.Book().Len() != 1 {
		t.Fatalf("replacement must not grow the book, len=%d", a.Book().Len())
	}
}

func TestIngestNotifiesSubscribers(t *testing.T) {
	a := NewAdapter(NewQuoteBook(), nil, nil, testLogger())
	ch := a.Subscribe(4)

	q := quote("okx", "BTC-USD", 103, 104)
	if err := a.Ingest(context.Background(), q); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	select {
	case change := <-ch:
		if change.Exchange != "okx" || change.Symbol != "BTC-USD" {
			t.Fatalf("unexpected change %+v", change)
		}
		if !change.Quote.Ask.Equal(q.Ask) {
			t.Fatalf("expected ask %s, got %s", q.Ask, change.Quote.Ask)
		}
	case <-time.After(time.Second):
		t.Fatal("no change notification delivered")
	}
}

func TestIngestDropsWhenSubscriberFull(t *testing.T) {
	a := NewAdapter(NewQuoteBook(), nil, nil, testLogger())
	a.Subscribe(1)
	ctx := context.Background()

	// Fill the buffer, then ingest again; the second notification is dropped
	// but ingestion itself must not block or fail.
	if err := a.Ingest(ctx, quote("binance", "BTC-USD", 100, 101)); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- a.Ingest(ctx, quote("binance", "BTC-USD", 102, 103))
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second ingest: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ingest blocked on a full subscriber")
	}
}

func TestSymbolQuotesReturnsAllExchanges(t *testing.T) {
	book := NewQuoteBook()
	a := NewAdapter(book, nil, nil, testLogger())
	ctx := context.Background()

	for _, q := range []domain.PriceQuote{
		quote("binance", "BTC-USD", 100, 101),
		quote("okx", "BTC-USD", 103, 104),
		quote("binance", "ETH-USD", 10, 11),
	} {
		if err := a.Ingest(ctx, q); err != nil {
			t.Fatalf("ingest %s: %v", q.Key(), err)
		}
	}

	quotes := book.SymbolQuotes("BTC-USD")
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes for BTC-USD, got %d", len(quotes))
	}
	for _, q := range quotes {
		if q.Symbol != "BTC-USD" {
			t.Fatalf("foreign symbol leaked into result: %+v", q)
		}
	}
}
