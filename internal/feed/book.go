package feed

import (
	"sync"

	"github.com/avolkov/arbengine/internal/domain"
)

// QuoteBook is the keyed store of the latest quote per (exchange, symbol).
// It is owned by the Adapter and passed by handle to the detector; there is no
// ambient global quote state.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]domain.PriceQuote // key: exchange:symbol

	// symbols indexes the exchanges currently quoting each symbol so the
	// detector can enumerate pairs without scanning the whole book.
	symbols map[string]map[string]struct{} // symbol -> set of exchanges
}

// NewQuoteBook returns an empty quote book.
func NewQuoteBook() *QuoteBook {
	return &QuoteBook{
		quotes:  make(map[string]domain.PriceQuote),
		symbols: make(map[string]map[string]struct{}),
	}
}

// Replace stores quote as the latest for its (exchange, symbol) slot and
// returns the superseded quote, if any.
func (b *QuoteBook) Replace(quote domain.PriceQuote) (prev domain.PriceQuote, had bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := quote.Key()
	prev, had = b.quotes[key]
	b.quotes[key] = quote

	set, ok := b.symbols[quote.Symbol]
	if !ok {
		set = make(map[string]struct{})
		b.symbols[quote.Symbol] = set
	}
	set[quote.Exchange] = struct{}{}
	return prev, had
}

// Get returns the latest quote for (exchange, symbol).
func (b *QuoteBook) Get(exchange, symbol string) (domain.PriceQuote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[exchange+":"+symbol]
	return q, ok
}

// SymbolQuotes returns the latest quote from every exchange quoting symbol.
func (b *QuoteBook) SymbolQuotes(symbol string) []domain.PriceQuote {
	b.mu.RLock()
	defer b.mu.RUnlock()

	set := b.symbols[symbol]
	out := make([]domain.PriceQuote, 0, len(set))
	for exchange := range set {
		if q, ok := b.quotes[exchange+":"+symbol]; ok {
			out = append(out, q)
		}
	}
	return out
}

// Len returns the number of live (exchange, symbol) slots.
func (b *QuoteBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}
