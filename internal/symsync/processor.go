package symsync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mytrader/marketfeed/internal/model"
)

// MissingSymbol is one ticker observed in price data but absent from the
// catalog, with how often and how recently it was seen.
type MissingSymbol struct {
	Ticker       string
	AssetClass   model.AssetClass
	Observations int
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Tx is one batch's transactional view of the symbol table.
type Tx interface {
	Exists(ctx context.Context, ticker, venue string) (bool, error)
	Insert(ctx context.Context, sym model.Symbol) error
	Update(ctx context.Context, sym model.Symbol) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens registration transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Config holds batch registration settings.
type Config struct {
	BatchSize      int  // Symbols per transaction (default: 100)
	MaxConcurrency int  // Batches in flight (default: 3)
	SkipExisting   bool // Skip symbols that already exist instead of refreshing their metadata
}

// ItemError records one symbol that could not be registered.
type ItemError struct {
	Ticker string
	Err    error
}

// BatchResult is the outcome of one transactional batch.
type BatchResult struct {
	Batch    int
	Inserted int
	Updated  int
	Skipped  int
	Items    []ItemError
	Err      error // batch-fatal: begin or commit failed, nothing persisted
}

// Summary aggregates all batch results of one Process call.
type Summary struct {
	Batches       int
	Inserted      int
	Updated       int
	Skipped       int
	ItemFailures  int
	FailedBatches int
}

// Processor registers missing symbols in independent, concurrency-bounded
// batches.
type Processor struct {
	cfg    Config
	store  Store
	infer  Inferrer
	logger *slog.Logger
	now    func() time.Time
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithInferrer overrides how registration attributes are derived.
func WithInferrer(infer Inferrer) ProcessorOption {
	return func(p *Processor) { p.infer = infer }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a batch symbol registrar.
func NewProcessor(cfg Config, store Store, opts ...ProcessorOption) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	p := &Processor{
		cfg:    cfg,
		store:  store,
		infer:  InferSymbol,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process registers all given symbols. Input order does not matter; batches
// are formed over a deterministic ticker ordering so repeated calls with the
// same set produce the same partitioning. Batches run concurrently, each in
// its own transaction: a failed batch rolls back alone and is reported in
// the summary, while its siblings commit normally.
func (p *Processor) Process(ctx context.Context, missing []MissingSymbol) (Summary, error) {
	if len(missing) == 0 {
		return Summary{}, nil
	}

	sorted := make([]MissingSymbol, len(missing))
	copy(sorted, missing)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	var batches [][]MissingSymbol
	for start := 0; start < len(sorted); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, sorted[start:end])
	}

	sem := semaphore.NewWeighted(int64(p.cfg.MaxConcurrency))
	results := make([]BatchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			return p.summarize(results[:i]), fmt.Errorf("acquire batch slot: %w", err)
		}
		wg.Add(1)
		go func(idx int, batch []MissingSymbol) {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = p.processBatch(ctx, idx, batch)
		}(i, batch)
	}
	wg.Wait()

	summary := p.summarize(results)
	p.logger.Info("symbol sync complete",
		"batches", summary.Batches,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"item_failures", summary.ItemFailures,
		"failed_batches", summary.FailedBatches,
	)
	return summary, nil
}

func (p *Processor) processBatch(ctx context.Context, idx int, batch []MissingSymbol) BatchResult {
	res := BatchResult{Batch: idx}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		res.Err = fmt.Errorf("begin batch %d: %w", idx, err)
		p.logger.Error("symbol batch failed to start", "batch", idx, "error", err)
		return res
	}

	// A failed INSERT or UPDATE aborts the whole transaction; nothing in
	// this batch can commit after it, so roll back and fail the batch.
	abort := func(verb, ticker string, err error) BatchResult {
		tx.Rollback(ctx)
		res.Err = fmt.Errorf("%s %s in batch %d: %w", verb, ticker, idx, err)
		res.Inserted = 0
		res.Updated = 0
		res.Skipped = 0
		res.Items = append(res.Items, ItemError{Ticker: ticker, Err: err})
		p.logger.Error("symbol batch rolled back",
			"batch", idx,
			"size", len(batch),
			"ticker", ticker,
			"error", err,
		)
		return res
	}

	for _, m := range batch {
		sym := p.infer(m.Ticker, m.AssetClass)

		// Re-check inside the transaction: another feeder instance may have
		// registered the ticker since it was observed.
		exists, err := tx.Exists(ctx, sym.Ticker, sym.Venue)
		if err != nil {
			res.Items = append(res.Items, ItemError{Ticker: m.Ticker, Err: err})
			continue
		}
		if exists {
			if p.cfg.SkipExisting {
				res.Skipped++
				continue
			}
			// The symbol was just observed in live data, so refresh its
			// metadata and reactivate it if it had been deactivated.
			sym.UpdatedAt = p.now()
			if err := tx.Update(ctx, sym); err != nil {
				return abort("update", m.Ticker, err)
			}
			res.Updated++
			continue
		}

		sym.CreatedAt = p.now()
		sym.UpdatedAt = sym.CreatedAt
		if err := tx.Insert(ctx, sym); err != nil {
			return abort("insert", m.Ticker, err)
		}
		res.Inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		res.Err = fmt.Errorf("commit batch %d: %w", idx, err)
		res.Inserted = 0
		res.Updated = 0
		res.Skipped = 0
		p.logger.Error("symbol batch rolled back", "batch", idx, "size", len(batch), "error", err)
		return res
	}

	for _, item := range res.Items {
		p.logger.Warn("symbol registration failed", "batch", idx, "ticker", item.Ticker, "error", item.Err)
	}
	return res
}

func (p *Processor) summarize(results []BatchResult) Summary {
	s := Summary{Batches: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.FailedBatches++
			continue
		}
		s.Inserted += r.Inserted
		s.Updated += r.Updated
		s.Skipped += r.Skipped
		s.ItemFailures += len(r.Items)
	}
	return s
}
