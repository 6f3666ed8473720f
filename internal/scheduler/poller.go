// Package scheduler drives pull-based ingestion: one poller per upstream
// provider, each fetching due symbols on the provider's cadence and handing
// successful quotes to the feed pipeline.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/provider"
	"github.com/mytrader/marketfeed/internal/resilience"
)

// SymbolSource answers which symbols are due for a refresh.
type SymbolSource interface {
	DueForBroadcast(ctx context.Context, assetClass model.AssetClass, venue string, minInterval time.Duration) ([]model.Symbol, error)
}

// Sink receives fetched price points. Enqueue reports false when the point
// was dropped (pipeline closed or full).
type Sink interface {
	Enqueue(point model.PricePoint) bool
}

// Config holds poller configuration.
type Config struct {
	PollInterval  time.Duration // Cycle cadence; falls back to the provider's recommendation
	RequestDelay  time.Duration // Pause between per-symbol requests (default: 300ms)
	CycleCooldown time.Duration // Extra wait after a failed cycle (default: 2m)
	AssetClass    model.AssetClass
}

// Poller periodically fetches quotes for due symbols from one provider.
type Poller struct {
	cfg      Config
	provider provider.Provider
	symbols  SymbolSource
	exec     *resilience.Executor
	sink     Sink
	logger   *slog.Logger

	cycles    atomic.Int64
	fetched   atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	lastCycle atomic.Int64 // unix µs

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller for one provider.
func New(cfg Config, p provider.Provider, symbols SymbolSource, exec *resilience.Executor, sink Sink, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = p.UpdateInterval()
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 300 * time.Millisecond
	}
	if cfg.CycleCooldown <= 0 {
		cfg.CycleCooldown = 2 * time.Minute
	}
	return &Poller{
		cfg:      cfg,
		provider: p,
		symbols:  symbols,
		exec:     exec,
		sink:     sink,
		logger:   logger.With("provider", p.Name()),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("poller started",
		"interval", p.cfg.PollInterval,
		"request_delay", p.cfg.RequestDelay,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped",
			"cycles", p.cycles.Load(),
			"fetched", p.fetched.Load(),
			"failures", p.failures.Load(),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop. A failed cycle adds a cooldown before the
// next attempt so a down venue is not hammered on every tick.
func (p *Poller) run() {
	defer p.wg.Done()

	// Poll immediately on start.
	cooldown := p.pollCycle()

	for {
		wait := p.cfg.PollInterval
		if cooldown {
			wait += p.cfg.CycleCooldown
		}

		select {
		case <-p.ctx.Done():
			return
		case <-time.After(wait):
			cooldown = p.pollCycle()
		}
	}
}

// pollCycle fetches all due symbols once. It reports true when the cycle
// itself failed (symbol load error), as opposed to individual symbol
// failures which are logged and skipped.
func (p *Poller) pollCycle() bool {
	start := time.Now()
	p.cycles.Add(1)

	due, err := p.symbols.DueForBroadcast(p.ctx, p.cfg.AssetClass, p.provider.Market(), 0)
	if err != nil {
		p.logger.Error("failed to load due symbols", "error", err)
		return true
	}
	if len(due) == 0 {
		p.logger.Debug("no symbols due")
		return false
	}

	var fetched, failed, dropped int
	for i, sym := range due {
		if p.ctx.Err() != nil {
			return false
		}
		if i > 0 {
			select {
			case <-p.ctx.Done():
				return false
			case <-time.After(p.cfg.RequestDelay):
			}
		}

		opKey := p.provider.Name() + ".poll:" + sym.Ticker
		points, err := resilience.Do(p.ctx, p.exec, opKey, func(ctx context.Context) ([]model.PricePoint, error) {
			return p.provider.GetPrices(ctx, []string{sym.Ticker})
		})
		if err != nil {
			failed++
			p.failures.Add(1)
			if resilience.IsCircuitOpen(err) {
				p.skipped.Add(1)
				p.logger.Debug("symbol skipped, circuit open", "ticker", sym.Ticker)
			} else {
				p.logger.Warn("symbol fetch failed", "ticker", sym.Ticker, "error", err)
			}
			continue
		}

		for _, pt := range points {
			if !p.sink.Enqueue(pt) {
				dropped++
				continue
			}
			fetched++
		}
	}

	p.fetched.Add(int64(fetched))
	p.lastCycle.Store(time.Now().UnixMicro())

	p.logger.Info("poll cycle complete",
		"due", len(due),
		"fetched", fetched,
		"failed", failed,
		"dropped", dropped,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return false
}

// PollerStats is a point-in-time snapshot of poller counters.
type PollerStats struct {
	Provider       string
	Cycles         int64
	PointsFetched  int64
	SymbolFailures int64
	CircuitSkips   int64
	LastCycleTS    int64
}

// Stats returns current counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Provider:       p.provider.Name(),
		Cycles:         p.cycles.Load(),
		PointsFetched:  p.fetched.Load(),
		SymbolFailures: p.failures.Load(),
		CircuitSkips:   p.skipped.Load(),
		LastCycleTS:    p.lastCycle.Load(),
	}
}
