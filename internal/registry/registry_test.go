package registry

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func opp(symbol, buy, sell string, netProfit float64, ttl time.Duration) domain.ArbitrageOpportunity {
	now := time.Now().UTC()
	return domain.ArbitrageOpportunity{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		BuyExchange:  buy,
		SellExchange: sell,
		BuyPrice:     decimal.NewFromInt(100),
		SellPrice:    decimal.NewFromInt(102),
		Spread:       decimal.NewFromInt(2),
		NetProfit:    decimal.NewFromFloat(netProfit),
		RiskLevel:    domain.RiskLow,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func TestUpsertSupersedesSamePair(t *testing.T) {
	r := New(testLogger())

	first := opp("BTC-USD", "binance", "okx", 5, time.Minute)
	second := opp("BTC-USD", "binance", "okx", 8, time.Minute)

	if !r.Upsert(first) {
		t.Fatal("first upsert rejected")
	}
	if !r.Upsert(second) {
		t.Fatal("second upsert rejected")
	}
	if r.Len() != 1 {
		t.Fatalf("same pair must hold one entry, got %d", r.Len())
	}
	if _, err := r.Get(first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("superseded opportunity still resolvable: %v", err)
	}
	got, err := r.Get(second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NetProfit.Equal(second.NetProfit) {
		t.Fatalf("expected net profit %s, got %s", second.NetProfit, got.NetProfit)
	}
}

func TestReversedDirectionIsSeparateEntry(t *testing.T) {
	r := New(testLogger())

	r.Upsert(opp("BTC-USD", "binance", "okx", 5, time.Minute))
	r.Upsert(opp("BTC-USD", "okx", "binance", 3, time.Minute))

	if r.Len() != 2 {
		t.Fatalf("opposite directions must not collide, got %d entries", r.Len())
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	r := New(testLogger())
	o := opp("ETH-USD", "binance", "kraken", 4, time.Minute)
	r.Upsert(o)

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)
	var alreadyClaimed int64
	var mu sync.Mutex

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Claim(o.ID)
			switch {
			case err == nil:
				wins <- struct{}{}
			case errors.Is(err, domain.ErrAlreadyClaimed):
				mu.Lock()
				alreadyClaimed++
				mu.Unlock()
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
	if alreadyClaimed != claimers-1 {
		t.Fatalf("expected %d losers, got %d", claimers-1, alreadyClaimed)
	}
}

func TestClaimExpiredReturnsExpiredError(t *testing.T) {
	r := New(testLogger())
	o := opp("BTC-USD", "binance", "okx", 5, -time.Second)
	r.Upsert(o)

	_, err := r.Claim(o.ID)
	if !errors.Is(err, domain.ErrExpiredOpportunity) {
		t.Fatalf("expected ErrExpiredOpportunity, got %v", err)
	}
	// The expired entry is gone; a second claim sees not-found.
	if _, err := r.Claim(o.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry removal, got %v", err)
	}
}

func TestClaimedEntrySurvivesUpsertAndSweep(t *testing.T) {
	r := New(testLogger())
	o := opp("BTC-USD", "binance", "okx", 5, 10*time.Millisecond)
	r.Upsert(o)

	if _, err := r.Claim(o.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A fresh detection for the same pair must not displace the claim.
	if r.Upsert(opp("BTC-USD", "binance", "okx", 9, time.Minute)) {
		t.Fatal("upsert displaced a claimed entry")
	}

	// Sweeping past expiry must leave the claimed entry alone.
	swept := r.SweepExpired(time.Now().UTC().Add(time.Hour))
	if len(swept) != 0 {
		t.Fatalf("sweep removed a claimed entry: %v", swept)
	}

	r.Release(o.ID)
	if r.Len() != 0 {
		t.Fatalf("release must free the slot, len=%d", r.Len())
	}
}

func TestInvalidateRemovesUnclaimedOnly(t *testing.T) {
	r := New(testLogger())
	o := opp("ETH-USD", "okx", "kraken", 2, time.Minute)
	r.Upsert(o)

	if !r.Invalidate("ETH-USD", "okx", "kraken") {
		t.Fatal("invalidate failed for live entry")
	}
	if r.Len() != 0 {
		t.Fatalf("entry still present after invalidate, len=%d", r.Len())
	}

	o2 := opp("ETH-USD", "okx", "kraken", 2, time.Minute)
	r.Upsert(o2)
	if _, err := r.Claim(o2.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if r.Invalidate("ETH-USD", "okx", "kraken") {
		t.Fatal("invalidate removed a claimed entry")
	}
}

func TestListSortedByNetProfitExcludesClaimed(t *testing.T) {
	r := New(testLogger())
	low := opp("BTC-USD", "binance", "okx", 1, time.Minute)
	mid := opp("ETH-USD", "binance", "okx", 5, time.Minute)
	high := opp("SOL-USD", "binance", "okx", 9, time.Minute)
	for _, o := range []domain.ArbitrageOpportunity{low, mid, high} {
		r.Upsert(o)
	}
	if _, err := r.Claim(mid.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("expected 2 listed, got %d", len(got))
	}
	if got[0].ID != high.ID || got[1].ID != low.ID {
		t.Fatalf("unexpected order: %s then %s", got[0].Symbol, got[1].Symbol)
	}
}

func TestWatchEmitsLifecycleEvents(t *testing.T) {
	r := New(testLogger())
	events := r.Watch(16)

	o := opp("BTC-USD", "binance", "okx", 5, time.Minute)
	r.Upsert(o)
	r.Upsert(opp("BTC-USD", "binance", "okx", 6, time.Minute))

	want := []string{"created", "updated"}
	for _, kind := range want {
		select {
		case evt := <-events:
			if evt.Kind != kind {
				t.Fatalf("expected %q event, got %q", kind, evt.Kind)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %q event delivered", kind)
		}
	}
}
