package model

import "github.com/shopspring/decimal"

// PricePoint is one normalized quote for a single instrument.
// Immutable once emitted; never updated in place.
type PricePoint struct {
	Ticker     string     // Instrument ticker
	AssetClass AssetClass // Subscription grouping
	Venue      string     // Market the quote came from

	Price         decimal.Decimal  // Last price
	PreviousClose *decimal.Decimal // nil when the venue did not report one

	// Derived by ComputeChange. Both nil unless PreviousClose is present
	// and strictly positive.
	PriceChange        *decimal.Decimal
	PriceChangePercent *decimal.Decimal

	Volume decimal.Decimal
	Open   *decimal.Decimal
	High   *decimal.Decimal
	Low    *decimal.Decimal

	DataTS     int64 // Venue-reported timestamp (µs since epoch)
	ReceivedAt int64 // Ingestion timestamp (µs since epoch)

	Source       string // Provider identifier (e.g., "binance")
	QualityScore int    // 0-100
	Realtime     bool   // Push-fed rather than polled
	MarketOpen   bool
}

var hundred = decimal.NewFromInt(100)

// ComputeChange fills PriceChange and PriceChangePercent from PreviousClose.
// A previous close of exactly zero, or an absent one, leaves both nil:
// change is always relative to the prior session's close, never to a
// falsy-coerced denominator or an intermediate polled price.
func (p *PricePoint) ComputeChange() {
	p.PriceChange = nil
	p.PriceChangePercent = nil

	if p.PreviousClose == nil || !p.PreviousClose.IsPositive() {
		return
	}

	// Multiply before dividing so the division rounding happens once,
	// on the final magnitude.
	change := p.Price.Sub(*p.PreviousClose)
	percent := change.Mul(hundred).Div(*p.PreviousClose)

	p.PriceChange = &change
	p.PriceChangePercent = &percent
}
