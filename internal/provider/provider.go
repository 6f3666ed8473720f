// Package provider defines the uniform contract over heterogeneous upstream
// market-data venues. Concrete providers live in subpackages and classify
// their failures into the resilience error taxonomy so the executor can
// decide what is worth retrying.
package provider

import (
	"context"
	"time"

	"github.com/mytrader/marketfeed/internal/model"
)

// Provider is implemented once per upstream venue.
type Provider interface {
	// Name identifies the provider (e.g., "binance").
	Name() string

	// Market is the venue code this provider serves (e.g., "BINANCE").
	Market() string

	// UpdateInterval is the recommended polling interval.
	UpdateInterval() time.Duration

	// GetPrices fetches normalized quotes for the given tickers.
	// Empty input yields empty output, not an error.
	GetPrices(ctx context.Context, symbols []string) ([]model.PricePoint, error)

	// IsAvailable reports whether the venue currently answers.
	IsAvailable(ctx context.Context) bool

	// GetMarketStatus returns the venue's trading status.
	GetMarketStatus(ctx context.Context, market string) (model.MarketStatus, error)
}
