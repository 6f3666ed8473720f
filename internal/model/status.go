package model

// MarketStatus describes whether a market is currently trading.
type MarketStatus struct {
	Market     string // Market code (e.g., "BINANCE", "BIST")
	Status     string // Venue-reported status (e.g., "open", "closed", "pre-market")
	IsOpen     bool
	Timezone   string // IANA timezone of the venue
	LastUpdate int64  // When this status was observed (µs since epoch)
}
