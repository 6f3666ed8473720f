// Package yahoo implements the equity price provider on top of the Yahoo
// Finance quote API. BIST instruments are requested with their exchange
// suffix (e.g., "GARAN" → "GARAN.IS") and returned under the bare ticker.
package yahoo

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
	providerName = "yahoo"

	// Yahoo quotes are delayed for most exchanges.
	pollQualityScore = 75
)

// Config holds Yahoo provider settings.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	Venue        string // Venue code reported on points (default: BIST)
	SymbolSuffix string // Exchange suffix appended on requests (default: ".IS")
	StatusSymbol string // Bellwether used for market status (default: "XU100")
}

// Provider fetches equity quotes from Yahoo Finance.
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

// New creates a Yahoo provider.
func New(cfg Config, opts ...Option) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Venue == "" {
		cfg.Venue = model.VenueBIST
	}
	if cfg.SymbolSuffix == "" {
		cfg.SymbolSuffix = ".IS"
	}
	if cfg.StatusSymbol == "" {
		cfg.StatusSymbol = "XU100"
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
func (p *Provider) Market() string                { return p.cfg.Venue }
func (p *Provider) UpdateInterval() time.Duration { return p.cfg.PollInterval }

// quoteWire is one result from the v7 quote endpoint (numbers as floats).
type quoteWire struct {
	Symbol                     string  `json:"symbol"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	RegularMarketOpen          float64 `json:"regularMarketOpen"`
	RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
	RegularMarketVolume        float64 `json:"regularMarketVolume"`
	RegularMarketTime          int64   `json:"regularMarketTime"` // seconds since epoch
	MarketState                string  `json:"marketState"`
	ExchangeTimezoneName       string  `json:"exchangeTimezoneName"`
}

type quoteResponseWire struct {
	QuoteResponse struct {
		Result []quoteWire     `json:"result"`
		Error  json.RawMessage `json:"error"`
	} `json:"quoteResponse"`
}

// GetPrices fetches quotes for the given tickers in one request.
func (p *Provider) GetPrices(ctx context.Context, symbols []string) ([]model.PricePoint, error) {
	if len(symbols) == 0 {
		return []model.PricePoint{}, nil
	}

	suffixed := make([]string, len(symbols))
	for i, s := range symbols {
		suffixed[i] = s + p.cfg.SymbolSuffix
	}
	query := url.Values{"symbols": {strings.Join(suffixed, ",")}}

	body, err := p.get(ctx, "/v7/finance/quote", query)
	if err != nil {
		return nil, err
	}

	var wire quoteResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &resilience.Error{Kind: resilience.KindDataFormat, Err: err}
	}

	receivedAt := time.Now().UnixMicro()
	points := make([]model.PricePoint, 0, len(wire.QuoteResponse.Result))
	for _, q := range wire.QuoteResponse.Result {
		points = append(points, p.toPoint(q, receivedAt))
	}
	return points, nil
}

func (p *Provider) toPoint(q quoteWire, receivedAt int64) model.PricePoint {
	point := model.PricePoint{
		Ticker:        strings.TrimSuffix(q.Symbol, p.cfg.SymbolSuffix),
		AssetClass:    model.AssetClassStock,
		Venue:         p.cfg.Venue,
		Price:         decimal.NewFromFloat(q.RegularMarketPrice),
		PreviousClose: optionalFloat(q.RegularMarketPreviousClose),
		Open:          optionalFloat(q.RegularMarketOpen),
		High:          optionalFloat(q.RegularMarketDayHigh),
		Low:           optionalFloat(q.RegularMarketDayLow),
		Volume:        decimal.NewFromFloat(q.RegularMarketVolume),
		DataTS:        q.RegularMarketTime * 1_000_000, // s → µs
		ReceivedAt:    receivedAt,
		Source:        providerName,
		QualityScore:  pollQualityScore,
		Realtime:      false,
		MarketOpen:    q.MarketState == "REGULAR",
	}
	point.ComputeChange()
	return point
}

// optionalFloat keeps an absent numeric field absent. Yahoo omits fields it
// has no value for, which decodes to 0; a true zero close never occurs for
// listed equities, so 0 is treated as missing rather than as a denominator.
func optionalFloat(f float64) *decimal.Decimal {
	if f == 0 {
		return nil
	}
	d := decimal.NewFromFloat(f)
	return &d
}

// IsAvailable probes the quote endpoint with the bellwether symbol.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	query := url.Values{"symbols": {p.cfg.StatusSymbol + p.cfg.SymbolSuffix}}
	_, err := p.get(ctx, "/v7/finance/quote", query)
	return err == nil
}

// GetMarketStatus derives the venue status from the bellwether quote.
func (p *Provider) GetMarketStatus(ctx context.Context, market string) (model.MarketStatus, error) {
	query := url.Values{"symbols": {p.cfg.StatusSymbol + p.cfg.SymbolSuffix}}

	body, err := p.get(ctx, "/v7/finance/quote", query)
	if err != nil {
		return model.MarketStatus{}, fmt.Errorf("fetch market status: %w", err)
	}

	var wire quoteResponseWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return model.MarketStatus{}, &resilience.Error{Kind: resilience.KindDataFormat, Err: err}
	}
	if len(wire.QuoteResponse.Result) == 0 {
		return model.MarketStatus{}, &resilience.Error{
			Kind: resilience.KindDataFormat,
			Err:  fmt.Errorf("empty quote response for %s", p.cfg.StatusSymbol),
		}
	}

	q := wire.QuoteResponse.Result[0]
	return model.MarketStatus{
		Market:     p.cfg.Venue,
		Status:     strings.ToLower(q.MarketState),
		IsOpen:     q.MarketState == "REGULAR",
		Timezone:   q.ExchangeTimezoneName,
		LastUpdate: time.Now().UnixMicro(),
	}, nil
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
	req.Header.Set("User-Agent", "marketfeed/1.0")

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
