package resilience

import (
	"errors"
	"strings"
	"time"
)

// BreakerState is the circuit-breaker state for one base operation.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker holds per-base-key circuit state. Created lazily on first failure;
// all access goes through the executor's mutex.
type breaker struct {
	state       BreakerState
	failures    int
	lastFailure time.Time
	lastSuccess time.Time
}

// BreakerSnapshot is a read-only view of one breaker for observability.
type BreakerSnapshot struct {
	State       BreakerState
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
}

// baseKey strips the per-item suffix from an operation key:
// "binance.poll:BTCUSDT" → "binance.poll".
func baseKey(opKey string) string {
	if i := strings.IndexByte(opKey, ':'); i >= 0 {
		return opKey[:i]
	}
	return opKey
}

// allow decides whether a call on the base key may proceed. While Open it
// fails fast until the breaker timeout elapses, then lets exactly one probe
// through in HalfOpen. Must not be called with e.mu held.
func (e *Executor) allow(base string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.breakers[base]
	if !ok {
		return nil
	}

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if e.now().Sub(b.lastFailure) < e.cfg.BreakerTimeout {
			return &Error{
				Kind: KindCircuitOpen,
				Err:  errors.New("circuit breaker open for " + base),
			}
		}
		// Timeout elapsed: allow a single probe.
		b.state = BreakerHalfOpen
		return nil
	case BreakerHalfOpen:
		// A probe is already in flight.
		return &Error{
			Kind: KindCircuitOpen,
			Err:  errors.New("circuit breaker half-open for " + base),
		}
	}
	return nil
}

// recordSuccess resets the breaker and clears the retry context.
func (e *Executor) recordSuccess(base, opKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[base]; ok {
		if b.state != BreakerClosed {
			e.logger.Info("circuit breaker closed", "op", base, "previous", b.state.String())
		}
		b.state = BreakerClosed
		b.failures = 0
		b.lastSuccess = e.now()
	}

	delete(e.retries, opKey)
}

// recordFailure bumps breaker and retry-context state for one failed attempt.
func (e *Executor) recordFailure(base, opKey string, cerr *Error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	b, ok := e.breakers[base]
	if !ok {
		b = &breaker{}
		e.breakers[base] = b
	}
	b.failures++
	b.lastFailure = now

	switch {
	case b.state == BreakerHalfOpen:
		// Failed probe: straight back to Open.
		b.state = BreakerOpen
		e.logger.Warn("circuit breaker reopened", "op", base)
	case b.state == BreakerClosed && b.failures >= e.cfg.BreakerThreshold:
		b.state = BreakerOpen
		e.logger.Warn("circuit breaker opened",
			"op", base,
			"failures", b.failures,
			"timeout", e.cfg.BreakerTimeout,
		)
	}

	rc, ok := e.retries[opKey]
	if !ok {
		rc = &retryContext{firstFailure: now}
		e.retries[opKey] = rc
	}
	rc.attempts++
	rc.lastKind = cerr.Kind
}

// Breakers returns a snapshot of all circuit breakers.
func (e *Executor) Breakers() map[string]BreakerSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]BreakerSnapshot, len(e.breakers))
	for k, b := range e.breakers {
		out[k] = BreakerSnapshot{
			State:       b.state,
			Failures:    b.failures,
			LastFailure: b.lastFailure,
			LastSuccess: b.lastSuccess,
		}
	}
	return out
}
