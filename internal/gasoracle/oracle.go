// Package gasoracle estimates the on-chain settlement cost folded into an
// opportunity's net profit. Venues that settle off-chain use the static
// oracle, usually at zero.
package gasoracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/avolkov/arbengine/internal/domain"
)

// Static returns a fixed gas fee for every symbol.
type Static struct {
	Fee decimal.Decimal
}

// EstimateGasFeeUSD returns the configured fee.
func (s Static) EstimateGasFeeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.Fee, nil
}

var _ domain.GasEstimator = Static{}

// EthConfig configures the on-chain oracle.
type EthConfig struct {
	RPCURL string
	// GasUnits is the gas budget of one settlement transaction.
	GasUnits int64
	// EthPriceUSD converts the wei cost to dollars. A live deployment feeds
	// this from the ETH-USD quote stream.
	EthPriceUSD float64
	// CacheTTL bounds how often the node is polled for a suggested price.
	CacheTTL time.Duration
}

// EthOracle asks an Ethereum node for the current suggested gas price and
// converts a settlement's cost to USD. Results are cached for CacheTTL so the
// detector's hot path does not hammer the RPC endpoint.
type EthOracle struct {
	cfg    EthConfig
	client *ethclient.Client
	logger *slog.Logger

	mu        sync.Mutex
	cachedFee decimal.Decimal
	fetchedAt time.Time
}

// NewEthOracle dials the RPC endpoint.
func NewEthOracle(ctx context.Context, cfg EthConfig, logger *slog.Logger) (*EthOracle, error) {
	if cfg.GasUnits <= 0 {
		cfg.GasUnits = 21_000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Second
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("gas oracle: dial %s: %w", cfg.RPCURL, err)
	}
	return &EthOracle{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "gas_oracle")),
	}, nil
}

// EstimateGasFeeUSD returns gasUnits * suggestedGasPrice converted to USD.
func (o *EthOracle) EstimateGasFeeUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if time.Since(o.fetchedAt) < o.cfg.CacheTTL {
		return o.cachedFee, nil
	}

	gasPrice, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		if !o.fetchedAt.IsZero() {
			// Stale beats nothing while the node flaps.
			o.logger.Warn("gas price refresh failed, using cached value",
				slog.String("error", err.Error()),
			)
			return o.cachedFee, nil
		}
		return decimal.Decimal{}, fmt.Errorf("gas oracle: suggest gas price: %w", err)
	}

	weiCost := decimal.NewFromBigInt(gasPrice, 0).Mul(decimal.NewFromInt(o.cfg.GasUnits))
	ethCost := weiCost.Div(decimal.New(1, 18))
	o.cachedFee = ethCost.Mul(decimal.NewFromFloat(o.cfg.EthPriceUSD))
	o.fetchedAt = time.Now()
	return o.cachedFee, nil
}

// Close releases the RPC connection.
func (o *EthOracle) Close() {
	o.client.Close()
}

var _ domain.GasEstimator = (*EthOracle)(nil)
