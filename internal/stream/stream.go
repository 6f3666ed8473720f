// Package stream ingests push-based market data over websocket. The reader
// maintains one combined-stream connection, normalizes ticker payloads into
// price points, and reconnects with capped exponential backoff when the
// venue drops the connection.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/model"
)

const streamQualityScore = 95

// Sink receives normalized price points.
type Sink interface {
	Enqueue(point model.PricePoint) bool
}

// Config holds stream connection settings.
type Config struct {
	URL                string        // Combined-stream endpoint (e.g., wss://stream.binance.com:9443/stream)
	Symbols            []string      // Tickers to subscribe (e.g., BTCUSDT)
	ReconnectBaseDelay time.Duration // First reconnect wait (default: 1s)
	ReconnectMaxDelay  time.Duration // Backoff cap (default: 1m)
	ReadTimeout        time.Duration // Silence window before the connection is presumed dead (default: 90s)
}

// Reader maintains the websocket connection and feeds the pipeline.
type Reader struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	received   atomic.Int64
	parsed     atomic.Int64
	parseFails atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReader creates a stream reader.
func NewReader(cfg Config, sink Sink, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	return &Reader{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
	}
}

// Start begins the connect/read/reconnect loop.
func (r *Reader) Start(ctx context.Context) error {
	if len(r.cfg.Symbols) == 0 {
		return fmt.Errorf("stream reader needs at least one symbol")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("stream reader started",
		"url", r.cfg.URL,
		"symbols", len(r.cfg.Symbols),
	)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (r *Reader) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("stream reader stopped",
			"received", r.received.Load(),
			"reconnects", r.reconnects.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether a live connection exists.
func (r *Reader) IsConnected() bool {
	return r.connected.Load()
}

// streamURL appends the combined-stream subscription list to the endpoint.
func (r *Reader) streamURL() string {
	streams := make([]string, len(r.cfg.Symbols))
	for i, sym := range r.cfg.Symbols {
		streams[i] = strings.ToLower(sym) + "@ticker"
	}
	return r.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

// run reconnects until the context is canceled.
func (r *Reader) run() {
	defer r.wg.Done()

	delay := r.cfg.ReconnectBaseDelay
	for {
		if r.ctx.Err() != nil {
			return
		}

		err := r.readSession()
		r.connected.Store(false)
		if r.ctx.Err() != nil {
			return
		}

		r.reconnects.Add(1)
		r.logger.Warn("stream disconnected, reconnecting",
			"delay", delay,
			"error", err,
		)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.cfg.ReconnectMaxDelay {
			delay = r.cfg.ReconnectMaxDelay
		}
	}
}

// readSession dials and reads until the connection fails. A successful read
// resets the reconnect backoff through its return to run.
func (r *Reader) readSession() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(r.ctx, r.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	r.connected.Store(true)
	r.logger.Info("stream connected", "url", r.cfg.URL)

	// Close the socket when the context dies so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-r.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		r.received.Add(1)

		point, err := parseTickerPayload(payload)
		if err != nil {
			r.parseFails.Add(1)
			r.logger.Warn("stream payload dropped", "error", err)
			continue
		}

		r.parsed.Add(1)
		r.sink.Enqueue(point)
	}
}

// combinedWire is the combined-stream envelope.
type combinedWire struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerWire is the 24hr rolling ticker payload.
type tickerWire struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"` // ms
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	PreviousClose string `json:"x"`
	Open          string `json:"o"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
}

// parseTickerPayload converts one stream message into a price point.
func parseTickerPayload(payload []byte) (model.PricePoint, error) {
	var envelope combinedWire
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return model.PricePoint{}, fmt.Errorf("decode envelope: %w", err)
	}

	data := envelope.Data
	if len(data) == 0 {
		// Raw (non-combined) endpoints deliver the payload bare.
		data = payload
	}

	var wire tickerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return model.PricePoint{}, fmt.Errorf("decode ticker payload: %w", err)
	}
	if wire.Symbol == "" || wire.LastPrice == "" {
		return model.PricePoint{}, fmt.Errorf("ticker payload missing symbol or price")
	}

	price, err := decimal.NewFromString(wire.LastPrice)
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("parse price %q: %w", wire.LastPrice, err)
	}

	point := model.PricePoint{
		Ticker:       wire.Symbol,
		AssetClass:   model.AssetClassCrypto,
		Venue:        model.VenueBinance,
		Price:        price,
		Volume:       parseOptionalDecimal(wire.Volume),
		DataTS:       wire.EventTime * 1000, // ms → µs
		ReceivedAt:   time.Now().UnixMicro(),
		Source:       "binance_ws",
		QualityScore: streamQualityScore,
		Realtime:     true,
		MarketOpen:   true,
	}

	if prev, err := decimal.NewFromString(wire.PreviousClose); err == nil {
		point.PreviousClose = &prev
	}
	if open, err := decimal.NewFromString(wire.Open); err == nil {
		point.Open = &open
	}
	if high, err := decimal.NewFromString(wire.High); err == nil {
		point.High = &high
	}
	if low, err := decimal.NewFromString(wire.Low); err == nil {
		point.Low = &low
	}
	point.ComputeChange()

	return point, nil
}

func parseOptionalDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Stats is a point-in-time snapshot of reader counters.
type Stats struct {
	Connected   bool
	Received    int64
	Parsed      int64
	ParseErrors int64
	Reconnects  int64
}

// ReaderStats returns current counters.
func (r *Reader) ReaderStats() Stats {
	return Stats{
		Connected:   r.connected.Load(),
		Received:    r.received.Load(),
		Parsed:      r.parsed.Load(),
		ParseErrors: r.parseFails.Load(),
		Reconnects:  r.reconnects.Load(),
	}
}
