package model

import (
	"time"

	"github.com/google/uuid"
)

// AssetClass categorizes instruments for subscription grouping.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassStock  AssetClass = "STOCK"
)

// SupportedAssetClasses lists the asset classes clients may subscribe to.
var SupportedAssetClasses = []AssetClass{AssetClassCrypto, AssetClassStock}

// Known reports whether the asset class is one the feeder serves.
func (a AssetClass) Known() bool {
	for _, s := range SupportedAssetClasses {
		if a == s {
			return true
		}
	}
	return false
}

// Venue codes for the markets the feeder ingests from.
const (
	VenueBinance = "BINANCE"
	VenueBIST    = "BIST"
	VenueNasdaq  = "NASDAQ"
)

// Symbol represents a tradable instrument tracked by the catalog.
// (Ticker, Venue) is unique. Symbols are never hard-deleted, only deactivated.
type Symbol struct {
	ID         uuid.UUID  // Primary key
	Ticker     string     // Instrument ticker (e.g., "BTCUSDT", "GARAN")
	Venue      string     // Market code (e.g., "BINANCE", "BIST")
	AssetClass AssetClass // Subscription grouping

	BaseCurrency  string // Base currency for pairs (e.g., "BTC"), empty otherwise
	QuoteCurrency string // Quote currency (e.g., "USDT"), empty otherwise

	PricePrecision    int // Decimal places for price display
	QuantityPrecision int // Decimal places for quantity display

	IsActive  bool // Instrument still exists on the venue
	IsTracked bool // Feeder polls/ingests this instrument
	IsDefault bool // Included in the default client subscription set

	BroadcastPriority int       // Higher = rebroadcast more often
	LastBroadcastAt   time.Time // Zero value = never broadcast

	CreatedAt time.Time
	UpdatedAt time.Time
}
