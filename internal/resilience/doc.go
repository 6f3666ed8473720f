// Package resilience wraps unreliable external calls with retry, circuit
// breaking, and dead-letter escalation.
//
// An Executor owns its circuit-breaker and retry-context state; nothing is
// package-global. Breakers are keyed by the operation's base name (the key
// up to the first ':'), so per-symbol calls like "binance.poll:BTCUSDT"
// share one breaker while keeping distinct retry contexts.
package resilience
