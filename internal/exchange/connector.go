// Package exchange contains the market-data connectors that feed live price
// quotes into the engine. Each connector owns one upstream connection and
// pushes normalized quotes into a QuoteSink.
package exchange

import (
	"context"

	"github.com/avolkov/arbengine/internal/domain"
)

// QuoteSink receives normalized quotes from a connector. The feed adapter
// implements this.
type QuoteSink interface {
	Ingest(ctx context.Context, quote domain.PriceQuote) error
}

// Connector streams quotes from one exchange until ctx is cancelled.
type Connector interface {
	// Name returns the exchange identifier the connector reports quotes for.
	Name() string

	// Run blocks, streaming quotes into the sink until ctx is done. Transient
	// upstream failures are handled internally; Run only returns when the
	// context is cancelled or the connector is misconfigured.
	Run(ctx context.Context) error
}
