package hub

import (
	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/model"
)

// Event types sent to subscribers.
const (
	EventConnectionStatus        = "ConnectionStatus"
	EventPriceUpdate             = "PriceUpdate"
	EventSubscriptionConfirmed   = "SubscriptionConfirmed"
	EventUnsubscriptionConfirmed = "UnsubscriptionConfirmed"
	EventSubscriptionError       = "SubscriptionError"
	EventMarketStatus            = "MarketStatusUpdate"
	EventCurrentMarketStatus     = "CurrentMarketStatus"
)

// Subscription error codes.
const (
	ErrorInvalidAssetClass = "InvalidAssetClass"
	ErrorNoSymbols         = "NoSymbols"
	ErrorInternal          = "InternalError"
)

// ConnectionStatusEvent greets a newly registered connection.
type ConnectionStatusEvent struct {
	Type                  string   `json:"type"`
	Status                string   `json:"status"`
	ClientID              string   `json:"clientId"`
	SupportedAssetClasses []string `json:"supportedAssetClasses"`
}

// PriceUpdateEvent is one quote on the wire. Decimal fields are strings so
// clients never lose precision to float parsing.
type PriceUpdateEvent struct {
	Type               string  `json:"type"`
	Symbol             string  `json:"symbol"`
	AssetClass         string  `json:"assetClass"`
	Venue              string  `json:"venue"`
	Price              string  `json:"price"`
	PreviousClose      *string `json:"previousClose,omitempty"`
	PriceChange        *string `json:"priceChange,omitempty"`
	PriceChangePercent *string `json:"priceChangePercent,omitempty"`
	Open               *string `json:"open,omitempty"`
	High               *string `json:"high,omitempty"`
	Low                *string `json:"low,omitempty"`
	Volume             string  `json:"volume"`
	Timestamp          int64   `json:"timestamp"` // µs since epoch
	Source             string  `json:"source"`
	QualityScore       int     `json:"qualityScore"`
	IsRealtime         bool    `json:"isRealtime"`
	MarketOpen         bool    `json:"marketOpen"`
}

// SubscriptionResultEvent acknowledges a successful (un)subscribe; Type
// distinguishes which.
type SubscriptionResultEvent struct {
	Type       string   `json:"type"`
	AssetClass string   `json:"assetClass"`
	Symbols    []string `json:"symbols,omitempty"`
	Bulk       bool     `json:"bulk,omitempty"`
}

// SubscriptionErrorEvent rejects a malformed subscribe request.
type SubscriptionErrorEvent struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MarketStatusEvent reports one venue's trading state.
type MarketStatusEvent struct {
	Type       string `json:"type"`
	AssetClass string `json:"assetClass"`
	Market     string `json:"market"`
	IsOpen     bool   `json:"isOpen"`
	Status     string `json:"status"`
	Timezone   string `json:"timezone,omitempty"`
	LastUpdate int64  `json:"lastUpdate,omitempty"` // µs since epoch
}

// CurrentMarketStatusEvent answers a GetMarketStatus request with every
// known venue status.
type CurrentMarketStatusEvent struct {
	Type      string              `json:"type"`
	Markets   []MarketStatusEvent `json:"markets"`
	Timestamp int64               `json:"timestamp"` // µs since epoch
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// priceEvent converts a point to its wire form.
func priceEvent(pt model.PricePoint) PriceUpdateEvent {
	return PriceUpdateEvent{
		Type:               EventPriceUpdate,
		Symbol:             pt.Ticker,
		AssetClass:         string(pt.AssetClass),
		Venue:              pt.Venue,
		Price:              pt.Price.String(),
		PreviousClose:      decString(pt.PreviousClose),
		PriceChange:        decString(pt.PriceChange),
		PriceChangePercent: decString(pt.PriceChangePercent),
		Open:               decString(pt.Open),
		High:               decString(pt.High),
		Low:                decString(pt.Low),
		Volume:             pt.Volume.String(),
		Timestamp:          pt.DataTS,
		Source:             pt.Source,
		QualityScore:       pt.QualityScore,
		IsRealtime:         pt.Realtime,
		MarketOpen:         pt.MarketOpen,
	}
}

func statusEvent(assetClass model.AssetClass, status model.MarketStatus) MarketStatusEvent {
	return MarketStatusEvent{
		Type:       EventMarketStatus,
		AssetClass: string(assetClass),
		Market:     status.Market,
		IsOpen:     status.IsOpen,
		Status:     status.Status,
		Timezone:   status.Timezone,
		LastUpdate: status.LastUpdate,
	}
}
