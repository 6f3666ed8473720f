package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/symsync"
)

// Publisher delivers a price point to connected subscribers.
type Publisher interface {
	PublishPrice(point model.PricePoint)
}

// LatestCache holds the most recent point per symbol.
type LatestCache interface {
	SetLatest(ctx context.Context, point model.PricePoint) error
}

// HistoryRecorder accepts points for durable storage. Enqueue reports false
// when the writer cannot accept more.
type HistoryRecorder interface {
	Enqueue(point model.PricePoint) bool
}

// SymbolResolver maps incoming tickers to catalog entries and records
// broadcast times.
type SymbolResolver interface {
	Find(ctx context.Context, assetClass model.AssetClass, venue, ticker string) (model.Symbol, bool, error)
	MarkBroadcast(ctx context.Context, symbolID uuid.UUID, ts time.Time) error
}

// Registrar registers symbols missing from the catalog.
type Registrar interface {
	Process(ctx context.Context, missing []symsync.MissingSymbol) (symsync.Summary, error)
}

// DispatcherConfig holds fan-out settings.
type DispatcherConfig struct {
	SweepInterval time.Duration // How often accumulated unknown tickers are registered (default: 30s)
}

// Dispatcher drains the point queue and fans each point out to delivery,
// caching, history, and catalog bookkeeping.
type Dispatcher struct {
	cfg       DispatcherConfig
	queue     *Queue[model.PricePoint]
	publisher Publisher
	cache     LatestCache
	history   HistoryRecorder
	resolver  SymbolResolver
	registrar Registrar
	logger    *slog.Logger
	now       func() time.Time

	published    atomic.Int64
	cacheErrors  atomic.Int64
	historyDrops atomic.Int64

	missingMu sync.Mutex
	missing   map[string]symsync.MissingSymbol

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher wires the pipeline stages together.
func NewDispatcher(cfg DispatcherConfig, queue *Queue[model.PricePoint], publisher Publisher, cache LatestCache, history HistoryRecorder, resolver SymbolResolver, registrar Registrar, opts ...DispatcherOption) *Dispatcher {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	d := &Dispatcher{
		cfg:       cfg,
		queue:     queue,
		publisher: publisher,
		cache:     cache,
		history:   history,
		resolver:  resolver,
		registrar: registrar,
		logger:    slog.Default(),
		now:       time.Now,
		missing:   make(map[string]symsync.MissingSymbol),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins draining the queue and sweeping unknown tickers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go d.drainLoop()
	go d.sweepLoop()

	d.logger.Info("dispatcher started", "sweep_interval", d.cfg.SweepInterval)
	return nil
}

// Stop waits for the drain loop to exhaust the (closed) queue, runs a final
// registration sweep, and shuts down.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.sweep(ctx)
	d.logger.Info("dispatcher stopped", "published", d.published.Load())
	return nil
}

// drainLoop exits when the queue is closed and empty.
func (d *Dispatcher) drainLoop() {
	defer d.wg.Done()

	for {
		pt, ok := d.queue.Dequeue()
		if !ok {
			return
		}
		d.dispatch(pt)
	}
}

// dispatch fans one point out. Delivery is never blocked by the slower
// stages: cache and history failures are counted and logged, not propagated.
func (d *Dispatcher) dispatch(pt model.PricePoint) {
	// Shutdown closes the queue but lets the drain finish; the remaining
	// points still need working cache and catalog calls.
	ctx := context.WithoutCancel(d.ctx)

	d.publisher.PublishPrice(pt)
	d.published.Add(1)

	if err := d.cache.SetLatest(ctx, pt); err != nil {
		d.cacheErrors.Add(1)
		d.logger.Warn("latest-price cache write failed", "ticker", pt.Ticker, "error", err)
	}

	if !d.history.Enqueue(pt) {
		d.historyDrops.Add(1)
	}

	sym, found, err := d.resolver.Find(ctx, pt.AssetClass, pt.Venue, pt.Ticker)
	if err != nil {
		d.logger.Warn("symbol lookup failed", "ticker", pt.Ticker, "error", err)
		return
	}
	if !found {
		d.observeMissing(pt)
		return
	}

	if err := d.resolver.MarkBroadcast(ctx, sym.ID, d.now()); err != nil {
		d.logger.Warn("broadcast mark failed", "ticker", pt.Ticker, "error", err)
	}
}

// observeMissing accumulates an unknown ticker for the next sweep.
func (d *Dispatcher) observeMissing(pt model.PricePoint) {
	key := string(pt.AssetClass) + "|" + pt.Ticker
	now := d.now()

	d.missingMu.Lock()
	defer d.missingMu.Unlock()

	m, ok := d.missing[key]
	if !ok {
		m = symsync.MissingSymbol{
			Ticker:     pt.Ticker,
			AssetClass: pt.AssetClass,
			FirstSeen:  now,
		}
	}
	m.Observations++
	m.LastSeen = now
	d.missing[key] = m
}

func (d *Dispatcher) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep(d.ctx)
		}
	}
}

// sweep hands the accumulated unknown tickers to the registrar. The batch
// is taken atomically; observations arriving during registration land in
// the next sweep.
func (d *Dispatcher) sweep(ctx context.Context) {
	d.missingMu.Lock()
	if len(d.missing) == 0 {
		d.missingMu.Unlock()
		return
	}
	batch := make([]symsync.MissingSymbol, 0, len(d.missing))
	for _, m := range d.missing {
		batch = append(batch, m)
	}
	d.missing = make(map[string]symsync.MissingSymbol)
	d.missingMu.Unlock()

	summary, err := d.registrar.Process(ctx, batch)
	if err != nil {
		d.logger.Error("symbol registration sweep failed", "symbols", len(batch), "error", err)
		return
	}
	d.logger.Info("symbol registration sweep",
		"observed", len(batch),
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)
}

// DispatcherStats is a point-in-time snapshot of dispatcher counters.
type DispatcherStats struct {
	Published    int64
	CacheErrors  int64
	HistoryDrops int64
	PendingSync  int
}

// Stats returns current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.missingMu.Lock()
	pending := len(d.missing)
	d.missingMu.Unlock()

	return DispatcherStats{
		Published:    d.published.Load(),
		CacheErrors:  d.cacheErrors.Load(),
		HistoryDrops: d.historyDrops.Load(),
		PendingSync:  pending,
	}
}
