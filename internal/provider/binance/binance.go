// Package binance implements the crypto price provider on top of Binance's
// public REST API. All tickers in one poll cycle are fetched with a single
// 24hr-ticker request.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/provider"
	"github.com/mytrader/marketfeed/internal/resilience"
)

const (
	providerName = "binance"

	// Polled REST quotes are near-realtime but not push-fed.
	pollQualityScore = 90
)

// Config holds Binance provider settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Provider fetches crypto quotes from Binance.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes the provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithHTTPClient replaces the HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Binance provider.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}

	p := &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string                  { return providerName }
func (p *Provider) Market() string                { return model.VenueBinance }
func (p *Provider) UpdateInterval() time.Duration { return p.cfg.PollInterval }

// tickerWire is Binance's 24hr ticker payload (prices as strings).
type tickerWire struct {
	Symbol         string `json:"symbol"`
	LastPrice      string `json:"lastPrice"`
	PrevClosePrice string `json:"prevClosePrice"`
	OpenPrice      string `json:"openPrice"`
	HighPrice      string `json:"highPrice"`
	LowPrice       string `json:"lowPrice"`
	Volume         string `json:"volume"`
	CloseTime      int64  `json:"closeTime"` // ms since epoch
}

// GetPrices fetches 24hr tickers for the given symbols in one request.
func (p *Provider) GetPrices(ctx context.Context, symbols []string) ([]model.PricePoint, error) {
	if len(symbols) == 0 {
		return []model.PricePoint{}, nil
	}

	// Binance expects a JSON array in the symbols query parameter:
	// ?symbols=["BTCUSDT","ETHUSDT"]
	list, err := json.Marshal(symbols)
	if err != nil {
		return nil, &resilience.Error{Kind: resilience.KindDataFormat, Err: err}
	}
	query := url.Values{"symbols": {string(list)}}

	body, err := p.get(ctx, "/api/v3/ticker/24hr", query)
	if err != nil {
		return nil, err
	}

	var wires []tickerWire
	if err := json.Unmarshal(body, &wires); err != nil {
		return nil, &resilience.Error{Kind: resilience.KindDataFormat, Err: err}
	}

	receivedAt := time.Now().UnixMicro()
	points := make([]model.PricePoint, 0, len(wires))
	for _, w := range wires {
		point, err := p.toPoint(w, receivedAt)
		if err != nil {
			p.logger.Warn("skipping malformed ticker", "symbol", w.Symbol, "error", err)
			continue
		}
		points = append(points, point)
	}
	return points, nil
}

func (p *Provider) toPoint(w tickerWire, receivedAt int64) (model.PricePoint, error) {
	price, err := decimal.NewFromString(w.LastPrice)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("parse lastPrice %q: %w", w.LastPrice, err)
	}

	point := model.PricePoint{
		Ticker:        w.Symbol,
		AssetClass:    model.AssetClassCrypto,
		Venue:         model.VenueBinance,
		Price:         price,
		PreviousClose: parseOptional(w.PrevClosePrice),
		Open:          parseOptional(w.OpenPrice),
		High:          parseOptional(w.HighPrice),
		Low:           parseOptional(w.LowPrice),
		DataTS:        w.CloseTime * 1000, // ms → µs
		ReceivedAt:    receivedAt,
		Source:        providerName,
		QualityScore:  pollQualityScore,
		Realtime:      false,
		MarketOpen:    true, // crypto trades around the clock
	}
	if v, err := decimal.NewFromString(w.Volume); err == nil {
		point.Volume = v
	}
	point.ComputeChange()
	return point, nil
}

// parseOptional returns nil for empty or malformed values rather than
// coercing them to zero.
func parseOptional(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// IsAvailable pings the venue.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	_, err := p.get(ctx, "/api/v3/ping", nil)
	return err == nil
}

// GetMarketStatus reports the crypto market as always open.
func (p *Provider) GetMarketStatus(ctx context.Context, market string) (model.MarketStatus, error) {
	status := model.MarketStatus{
		Market:     model.VenueBinance,
		Status:     "open",
		IsOpen:     p.IsAvailable(ctx),
		Timezone:   "UTC",
		LastUpdate: time.Now().UnixMicro(),
	}
	if !status.IsOpen {
		status.Status = "unreachable"
	}
	return status, nil
}

func (p *Provider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := strings.TrimSuffix(p.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Classify(err)
	}

	if resp.StatusCode >= 400 {
		return nil, provider.StatusError(resp)
	}
	return body, nil
}
