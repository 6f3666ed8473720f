package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Config holds retry and circuit-breaker settings.
type Config struct {
	MaxAttempts      int           // Total attempts per call (default: 3)
	BaseDelay        time.Duration // First retry delay (default: 1s)
	MaxDelay         time.Duration // Backoff cap (default: 30s)
	Multiplier       float64       // Backoff growth factor (default: 2)
	BreakerThreshold int           // Consecutive failures before opening (default: 5)
	BreakerTimeout   time.Duration // Open → half-open cooldown (default: 1m)
	BatchConcurrency int64         // Permit pool size for batch execution (default: 10)
	DeadLetter       bool          // Record terminal failures
	DeadLetterCap    int           // Max retained dead letters (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		Multiplier:       2,
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
		BatchConcurrency: 10,
		DeadLetter:       true,
		DeadLetterCap:    1000,
	}
}

// retryContext tracks accumulated failures for one full operation key.
// Removed on success.
type retryContext struct {
	attempts     int
	firstFailure time.Time
	lastKind     Kind
}

// RetryInfo is a read-only view of one retry context.
type RetryInfo struct {
	Attempts     int
	FirstFailure time.Time
	LastKind     Kind
}

// Executor wraps external calls with retry, circuit breaking, and
// dead-lettering. All state is owned by the instance.
type Executor struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*breaker      // base key → circuit state
	retries  map[string]*retryContext // full key → retry context

	deadLetters *DeadLetterLog // nil when disabled
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source (used by tests to step the breaker
// timeout without sleeping).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor. Zero config fields fall back to defaults.
func New(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.BreakerThreshold < 1 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if cfg.DeadLetterCap < 1 {
		cfg.DeadLetterCap = def.DeadLetterCap
	}

	e := &Executor{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		breakers: make(map[string]*breaker),
		retries:  make(map[string]*retryContext),
	}
	if cfg.DeadLetter {
		e.deadLetters = NewDeadLetterLog(cfg.DeadLetterCap)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do executes op with retry and circuit breaking under the given operation
// key. A circuit-open denial fails immediately and does not count as an
// attempt. Retryable failures back off exponentially with jitter unless the
// error carries a server-provided RetryAfter, which takes precedence.
func Do[T any](ctx context.Context, e *Executor, opKey string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	base := baseKey(opKey)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := e.allow(base); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			e.recordSuccess(base, opKey)
			return result, nil
		}

		cerr := Classify(err)
		e.recordFailure(base, opKey, cerr)

		if !cerr.Retryable() || attempt == e.cfg.MaxAttempts {
			return zero, e.terminal(opKey, cerr)
		}

		delay := e.backoff(attempt, cerr)
		e.logger.Debug("retrying operation",
			"op", opKey,
			"attempt", attempt,
			"kind", cerr.Kind,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	// Unreachable: the loop always returns.
	return zero, nil
}

// BatchResult partitions batch outcomes by item.
type BatchResult[K comparable, T any] struct {
	Succeeded map[K]T
	Failed    map[K]string
}

// DoBatch runs op for every item under a bounded permit pool. Each item gets
// its own retry context ("opKey:item") while sharing the base-key breaker;
// one item exhausting its retries does not cancel siblings.
func DoBatch[K comparable, T any](ctx context.Context, e *Executor, opKey string, items []K, op func(context.Context, K) (T, error)) BatchResult[K, T] {
	res := BatchResult[K, T]{
		Succeeded: make(map[K]T, len(items)),
		Failed:    make(map[K]string),
	}

	sem := semaphore.NewWeighted(e.cfg.BatchConcurrency)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			res.Failed[item] = err.Error()
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(it K) {
			defer wg.Done()
			defer sem.Release(1)

			itemKey := fmt.Sprintf("%s:%v", opKey, it)
			v, err := Do(ctx, e, itemKey, func(ctx context.Context) (T, error) {
				return op(ctx, it)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[it] = err.Error()
			} else {
				res.Succeeded[it] = v
			}
		}(item)
	}

	wg.Wait()
	return res
}

// terminal builds the OperationError for an exhausted or non-retryable call,
// dead-lettering it when enabled. The retry context is consumed: the dead
// letter carries its totals.
func (e *Executor) terminal(opKey string, cerr *Error) error {
	e.mu.Lock()
	attempts := 1
	firstFailure := e.now()
	if rc, ok := e.retries[opKey]; ok {
		attempts = rc.attempts
		firstFailure = rc.firstFailure
		delete(e.retries, opKey)
	}
	e.mu.Unlock()

	if e.deadLetters != nil {
		e.deadLetters.Append(DeadLetterEntry{
			ID:           uuid.New(),
			OpKey:        opKey,
			Kind:         cerr.Kind,
			Message:      cerr.Error(),
			Attempts:     attempts,
			FirstFailure: firstFailure,
			LastFailure:  e.now(),
		})
	}

	e.logger.Warn("operation failed terminally",
		"op", opKey,
		"attempts", attempts,
		"kind", cerr.Kind,
		"error", cerr.Err,
	)

	return &OperationError{OpKey: opKey, Attempts: attempts, Kind: cerr.Kind, Err: cerr}
}

// backoff computes the wait before the next attempt:
// min(maxDelay, baseDelay × multiplier^(attempt−1) × jitter), where jitter
// scales by 0.5–1.5. A server-provided RetryAfter takes precedence as-is.
func (e *Executor) backoff(attempt int, cerr *Error) time.Duration {
	if cerr != nil && cerr.RetryAfter > 0 {
		return cerr.RetryAfter
	}

	exp := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	jittered := exp * (0.5 + rand.Float64())

	d := time.Duration(jittered)
	if d > e.cfg.MaxDelay {
		d = e.cfg.MaxDelay
	}
	return d
}

// Retry returns the retry context for a full operation key, if present.
func (e *Executor) Retry(opKey string) (RetryInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rc, ok := e.retries[opKey]
	if !ok {
		return RetryInfo{}, false
	}
	return RetryInfo{Attempts: rc.attempts, FirstFailure: rc.firstFailure, LastKind: rc.lastKind}, true
}

// DeadLetters returns the recorded terminal failures, oldest first.
// Nil when dead-lettering is disabled.
func (e *Executor) DeadLetters() []DeadLetterEntry {
	if e.deadLetters == nil {
		return nil
	}
	return e.deadLetters.Entries()
}

// Stats summarizes executor state for observability endpoints.
type Stats struct {
	OpenBreakers   int
	PendingRetries int
	DeadLetters    int
}

// ExecStats returns current counts.
func (e *Executor) ExecStats() Stats {
	e.mu.Lock()
	open := 0
	for _, b := range e.breakers {
		if b.state != BreakerClosed {
			open++
		}
	}
	pending := len(e.retries)
	e.mu.Unlock()

	s := Stats{OpenBreakers: open, PendingRetries: pending}
	if e.deadLetters != nil {
		s.DeadLetters = e.deadLetters.Len()
	}
	return s
}
