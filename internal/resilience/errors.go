package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind classifies a failure for retry decisions.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindHTTP        Kind = "http"
	KindDataFormat  Kind = "data_format"
	KindAuth        Kind = "authentication"
	KindConfig      Kind = "configuration"
	KindCircuitOpen Kind = "circuit_open"
	KindUnknown     Kind = "unknown"
)

// Error is a classified failure from an external call.
type Error struct {
	Kind       Kind
	StatusCode int           // HTTP status, when Kind is KindHTTP
	RetryAfter time.Duration // Server-provided wait; overrides computed backoff
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("%s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a retry could plausibly succeed.
// HTTP failures retry only for server-side and throttling statuses;
// everything that needs operator intervention does not.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
	default:
		// DataFormat, Auth, Config, CircuitOpen, Unknown: conservative.
		return false
	}
}

// Classify maps an arbitrary error onto the taxonomy. Errors already
// classified by a provider pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindNetwork, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &Error{Kind: KindDataFormat, Err: err}
	}

	return &Error{Kind: KindUnknown, Err: err}
}

// IsCircuitOpen reports whether err is a circuit-breaker fast-fail.
func IsCircuitOpen(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr) && cerr.Kind == KindCircuitOpen
}

// OperationError is the terminal failure raised when retries are exhausted
// or a non-retryable error occurs.
type OperationError struct {
	OpKey    string
	Attempts int
	Kind     Kind
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed after %d attempt(s) (%s): %v", e.OpKey, e.Attempts, e.Kind, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
