package symsync

import (
	"strings"

	"github.com/mytrader/marketfeed/internal/model"
)

// Inferrer derives registration attributes (venue, base/quote currency)
// for a ticker that is not yet in the catalog.
type Inferrer func(ticker string, assetClass model.AssetClass) model.Symbol

// quoteCurrencies are checked longest-first so BTCUSDT resolves to
// BTC/USDT rather than BTCUSD/T.
var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "EUR", "TRY", "USD"}

// InferSymbol is the default Inferrer.
//
// Crypto tickers are split on a known quote-currency suffix and assigned to
// Binance. Stock tickers follow the exchange convention: short all-letter
// codes trade on BIST, anything else is assumed to be a US listing.
func InferSymbol(ticker string, assetClass model.AssetClass) model.Symbol {
	sym := model.Symbol{
		Ticker:     ticker,
		AssetClass: assetClass,
		IsActive:   true,
		IsTracked:  true,
	}

	switch assetClass {
	case model.AssetClassCrypto:
		sym.Venue = model.VenueBinance
		for _, quote := range quoteCurrencies {
			if base, ok := strings.CutSuffix(ticker, quote); ok && base != "" {
				sym.BaseCurrency = base
				sym.QuoteCurrency = quote
				break
			}
		}
	case model.AssetClassStock:
		if lettersOnly(ticker) && len(ticker) <= 5 {
			sym.Venue = model.VenueBIST
			sym.QuoteCurrency = "TRY"
		} else {
			sym.Venue = model.VenueNasdaq
			sym.QuoteCurrency = "USD"
		}
	}
	return sym
}

func lettersOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
