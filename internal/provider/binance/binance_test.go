package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/resilience"
)

const tickerJSON = `[{
	"symbol": "BTCUSDT",
	"lastPrice": "100",
	"prevClosePrice": "95",
	"openPrice": "96",
	"highPrice": "101",
	"lowPrice": "94",
	"volume": "1234.5",
	"closeTime": 1718000000000
}]`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, Timeout: time.Second})
}

func TestGetPrices_EmptyInput(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	})

	points, err := p.GetPrices(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetPrices failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("points = %d, want 0", len(points))
	}
}

func TestGetPrices_Normalizes(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/api/v3/ticker/24hr" {
			t.Errorf("path = %q", got)
		}
		if got := r.URL.Query().Get("symbols"); got != `["BTCUSDT"]` {
			t.Errorf("symbols param = %q", got)
		}
		w.Write([]byte(tickerJSON))
	})

	points, err := p.GetPrices(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("GetPrices failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}

	pt := points[0]
	if pt.Ticker != "BTCUSDT" {
		t.Errorf("Ticker = %q", pt.Ticker)
	}
	if pt.AssetClass != model.AssetClassCrypto {
		t.Errorf("AssetClass = %q", pt.AssetClass)
	}
	if !pt.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Price = %s, want 100", pt.Price)
	}
	if pt.PreviousClose == nil || !pt.PreviousClose.Equal(decimal.NewFromInt(95)) {
		t.Errorf("PreviousClose = %v, want 95", pt.PreviousClose)
	}
	if pt.PriceChange == nil || !pt.PriceChange.Equal(decimal.NewFromInt(5)) {
		t.Errorf("PriceChange = %v, want 5", pt.PriceChange)
	}
	if pt.DataTS != 1718000000000000 {
		t.Errorf("DataTS = %d, want µs conversion of closeTime", pt.DataTS)
	}
	if pt.Realtime {
		t.Error("Realtime = true for a polled quote")
	}
	if !pt.MarketOpen {
		t.Error("MarketOpen = false for crypto")
	}
}

func TestGetPrices_SkipsMalformedTicker(t *testing.T) {
	payload := `[
		{"symbol": "GOODUSDT", "lastPrice": "2", "prevClosePrice": "1", "volume": "10", "closeTime": 1},
		{"symbol": "BADUSDT", "lastPrice": "not-a-number", "closeTime": 1}
	]`
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})

	points, err := p.GetPrices(context.Background(), []string{"GOODUSDT", "BADUSDT"})
	if err != nil {
		t.Fatalf("GetPrices failed: %v", err)
	}
	if len(points) != 1 || points[0].Ticker != "GOODUSDT" {
		t.Errorf("points = %+v, want only GOODUSDT", points)
	}
}

func TestGetPrices_ClassifiesHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   resilience.Kind
		wantWait   time.Duration
	}{
		{"server error", http.StatusServiceUnavailable, "", resilience.KindHTTP, 0},
		{"throttled with retry-after", http.StatusTooManyRequests, "7", resilience.KindHTTP, 7 * time.Second},
		{"forbidden", http.StatusForbidden, "", resilience.KindAuth, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			})

			_, err := p.GetPrices(context.Background(), []string{"BTCUSDT"})
			var cerr *resilience.Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want *resilience.Error", err)
			}
			if cerr.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", cerr.Kind, tt.wantKind)
			}
			if cerr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", cerr.StatusCode, tt.status)
			}
			if cerr.RetryAfter != tt.wantWait {
				t.Errorf("RetryAfter = %v, want %v", cerr.RetryAfter, tt.wantWait)
			}
		})
	}
}

// Three 503s then a 200: the executor retries with backoff and the final
// point carries change 5 and percent change 100*5/95.
func TestGetPrices_RecoversThroughExecutor(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(tickerJSON))
	})

	exec := resilience.New(resilience.Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})

	points, err := resilience.Do(context.Background(), exec, "binance.poll:BTCUSDT",
		func(ctx context.Context) ([]model.PricePoint, error) {
			return p.GetPrices(ctx, []string{"BTCUSDT"})
		})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("upstream calls = %d, want 4", got)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}

	pt := points[0]
	if pt.PriceChange == nil || !pt.PriceChange.Equal(decimal.NewFromInt(5)) {
		t.Errorf("PriceChange = %v, want 5", pt.PriceChange)
	}
	wantPercent := decimal.NewFromInt(500).Div(decimal.NewFromInt(95))
	if pt.PriceChangePercent == nil || !pt.PriceChangePercent.Round(6).Equal(wantPercent.Round(6)) {
		t.Errorf("PriceChangePercent = %v, want ≈%s", pt.PriceChangePercent, wantPercent.Round(6))
	}
}

func TestIsAvailable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{}`))
	})

	if !p.IsAvailable(context.Background()) {
		t.Error("IsAvailable = false, want true")
	}
}
