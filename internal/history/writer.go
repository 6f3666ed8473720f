// Package history persists every delivered price point to the market_data
// table. Writes are batched: points accumulate in memory and are flushed by
// size or by timer, append-only with conflict rows silently skipped.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/feed"
	"github.com/mytrader/marketfeed/internal/model"
)

// Config holds batch writer settings.
type Config struct {
	BatchSize     int           // Rows per flush (default: 200)
	FlushInterval time.Duration // Max time a row waits in memory (default: 5s)
	QueueSize     int           // Pending-point bound (default: 10000)
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Writer consumes price points and writes them to market_data in batches.
type Writer struct {
	cfg    Config
	db     *pgxpool.Pool
	logger *slog.Logger

	input *feed.Queue[model.PricePoint]

	batch       []row
	batchMu     sync.Mutex
	flushTicker *time.Ticker
	metrics     Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// row is the flattened insert form. Decimals travel as strings so the
// database parses them into numeric without a float detour.
type row struct {
	Ticker             string
	AssetClass         string
	Venue              string
	Price              string
	PreviousClose      *string
	PriceChange        *string
	PriceChangePercent *string
	Open               *string
	High               *string
	Low                *string
	Volume             string
	DataTS             int64
	ReceivedAt         int64
	Source             string
	QualityScore       int
	Realtime           bool
	MarketOpen         bool
}

// NewWriter creates a history writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10000
	}
	initial := 256
	if cfg.QueueSize < initial {
		initial = cfg.QueueSize
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  feed.NewQueue[model.PricePoint](initial, cfg.QueueSize),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

// Enqueue accepts a point for durable storage. Reports false when the
// pending queue is full; the point is lost to history but the live path
// is unaffected.
func (w *Writer) Enqueue(pt model.PricePoint) bool {
	return w.input.Enqueue(pt)
}

// Start begins consuming and flushing.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the pending queue, flushes the final batch, and shuts down.
func (w *Writer) Stop(ctx context.Context) error {
	// Closing the queue lets the consumer drain what is already pending;
	// cancel only stops the flush timer loop.
	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	w.flush()
	w.logger.Info("history writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input queue until it is closed and empty.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		pt, ok := w.input.Dequeue()
		if !ok {
			return
		}

		w.batchMu.Lock()
		w.batch = append(w.batch, transform(pt))
		shouldFlush := len(w.batch) >= w.cfg.BatchSize
		w.batchMu.Unlock()

		if shouldFlush {
			w.flush()
		}
	}
}

// flushLoop flushes on a timer so quiet periods still reach the database.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func decStr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

// transform flattens a point into its insert row.
func transform(pt model.PricePoint) row {
	return row{
		Ticker:             pt.Ticker,
		AssetClass:         string(pt.AssetClass),
		Venue:              pt.Venue,
		Price:              pt.Price.String(),
		PreviousClose:      decStr(pt.PreviousClose),
		PriceChange:        decStr(pt.PriceChange),
		PriceChangePercent: decStr(pt.PriceChangePercent),
		Open:               decStr(pt.Open),
		High:               decStr(pt.High),
		Low:                decStr(pt.Low),
		Volume:             pt.Volume.String(),
		DataTS:             pt.DataTS,
		ReceivedAt:         pt.ReceivedAt,
		Source:             pt.Source,
		QualityScore:       pt.QualityScore,
		Realtime:           pt.Realtime,
		MarketOpen:         pt.MarketOpen,
	}
}

// flush writes the current batch.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("history batch insert failed", "count", len(batch), "error", err)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed history",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}

// batchInsert inserts rows with pgx.Batch, skipping duplicate observations.
func (w *Writer) batchInsert(rows []row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO market_data (
				ticker, asset_class, venue, price, previous_close,
				price_change, price_change_percent, open, high, low, volume,
				data_ts, received_at, source, quality_score, realtime, market_open
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (ticker, venue, data_ts) DO NOTHING`,
			r.Ticker, r.AssetClass, r.Venue, r.Price, r.PreviousClose,
			r.PriceChange, r.PriceChangePercent, r.Open, r.High, r.Low, r.Volume,
			r.DataTS, r.ReceivedAt, r.Source, r.QualityScore, r.Realtime, r.MarketOpen,
		)
	}

	// Flushes race shutdown; the batch must still land.
	ctx := w.ctx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
