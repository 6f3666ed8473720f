package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testClock is a manually stepped time source.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestExecutor(cfg Config) (*Executor, *testClock) {
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(cfg, WithClock(clock.Now)), clock
}

func retryableErr() error {
	return &Error{Kind: KindNetwork, Err: errors.New("connection reset")}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})

	calls := 0
	got, err := Do(context.Background(), e, "test.op:BTCUSDT", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, retryableErr()
		}
		return 42, nil
	})

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	// Success must leave no residual retry context.
	if _, ok := e.Retry("test.op:BTCUSDT"); ok {
		t.Error("retry context still present after success")
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	e, _ := newTestExecutor(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, DeadLetter: true})

	calls := 0
	_, err := Do(context.Background(), e, "test.op", func(context.Context) (int, error) {
		calls++
		return 0, &Error{Kind: KindAuth, Err: errors.New("invalid api key")}
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want *OperationError", err)
	}
	if opErr.Kind != KindAuth {
		t.Errorf("Kind = %s, want %s", opErr.Kind, KindAuth)
	}
	if opErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", opErr.Attempts)
	}

	letters := e.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].OpKey != "test.op" || letters[0].Kind != KindAuth {
		t.Errorf("dead letter = %+v", letters[0])
	}
}

func TestDo_ExhaustionDeadLetters(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		DeadLetter:  true,
	})

	_, err := Do(context.Background(), e, "test.op:ETHUSDT", func(context.Context) (int, error) {
		return 0, retryableErr()
	})

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("err = %v, want *OperationError", err)
	}
	if opErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", opErr.Attempts)
	}

	letters := e.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].Attempts != 3 {
		t.Errorf("dead letter attempts = %d, want 3", letters[0].Attempts)
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	e, clock := newTestExecutor(Config{
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 3,
		BreakerTimeout:   time.Minute,
	})
	ctx := context.Background()

	fail := func(context.Context) (int, error) { return 0, retryableErr() }

	// Per-symbol keys share the base breaker.
	for i, key := range []string{"venue.poll:AAA", "venue.poll:BBB", "venue.poll:CCC"} {
		if _, err := Do(ctx, e, key, fail); err == nil {
			t.Fatalf("call %d: err = nil, want failure", i)
		}
	}

	if got := e.Breakers()["venue.poll"].State; got != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}

	// Next call fails fast without invoking the operation.
	calls := 0
	_, err := Do(ctx, e, "venue.poll:DDD", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want circuit-open", err)
	}
	if calls != 0 {
		t.Errorf("operation invoked %d times while open, want 0", calls)
	}

	// After the timeout, one probe goes through; success closes the breaker.
	clock.Advance(time.Minute + time.Second)
	got, err := Do(ctx, e, "venue.poll:DDD", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got != 7 {
		t.Errorf("probe result = %d, want 7", got)
	}

	snap := e.Breakers()["venue.poll"]
	if snap.State != BreakerClosed {
		t.Errorf("state after probe success = %s, want closed", snap.State)
	}
	if snap.Failures != 0 {
		t.Errorf("failures after probe success = %d, want 0", snap.Failures)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	e, clock := newTestExecutor(Config{
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	})
	ctx := context.Background()

	fail := func(context.Context) (int, error) { return 0, retryableErr() }

	for i := 0; i < 2; i++ {
		Do(ctx, e, "venue.poll", fail)
	}
	if got := e.Breakers()["venue.poll"].State; got != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}

	// Failed probe sends it straight back to Open.
	clock.Advance(2 * time.Minute)
	if _, err := Do(ctx, e, "venue.poll", fail); err == nil {
		t.Fatal("probe err = nil, want failure")
	}
	if got := e.Breakers()["venue.poll"].State; got != BreakerOpen {
		t.Errorf("state after failed probe = %s, want open", got)
	}

	// And without advancing the clock, calls fail fast again.
	if _, err := Do(ctx, e, "venue.poll", fail); !IsCircuitOpen(err) {
		t.Errorf("err = %v, want circuit-open", err)
	}
}

func TestDo_RetryAfterOverridesBackoff(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts: 2,
		BaseDelay:   time.Hour, // would stall the test if used
		MaxDelay:    time.Hour,
	})

	cerr := &Error{Kind: KindHTTP, StatusCode: 429, RetryAfter: time.Millisecond, Err: errors.New("throttled")}
	if got := e.backoff(1, cerr); got != time.Millisecond {
		t.Fatalf("backoff = %v, want server-provided %v", got, time.Millisecond)
	}

	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), e, "test.op", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, cerr
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("retry waited %v, want the 1ms Retry-After", elapsed)
	}
}

func TestBackoff_Growth(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
	})

	// Jitter scales each delay by 0.5-1.5; check the envelope and the cap.
	for attempt := 1; attempt <= 5; attempt++ {
		d := e.backoff(attempt, &Error{Kind: KindNetwork})
		exp := 100 * time.Millisecond * (1 << (attempt - 1))
		min := exp / 2
		if d < min && d != time.Second {
			t.Errorf("attempt %d: backoff %v below %v", attempt, d, min)
		}
		if d > time.Second {
			t.Errorf("attempt %d: backoff %v exceeds cap", attempt, d)
		}
	}
}

func TestDoBatch_IsolatesFailures(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts:      2,
		BaseDelay:        time.Millisecond,
		BreakerThreshold: 100, // keep the breaker out of the way
		BatchConcurrency: 4,
	})

	items := []string{"AAA", "BBB", "CCC", "DDD"}
	res := DoBatch(context.Background(), e, "venue.fetch", items, func(_ context.Context, it string) (string, error) {
		if it == "BBB" {
			return "", retryableErr()
		}
		return "price:" + it, nil
	})

	if len(res.Succeeded) != 3 {
		t.Errorf("succeeded = %d, want 3", len(res.Succeeded))
	}
	if got := res.Succeeded["AAA"]; got != "price:AAA" {
		t.Errorf("Succeeded[AAA] = %q", got)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(res.Failed))
	}
	if _, ok := res.Failed["BBB"]; !ok {
		t.Errorf("Failed missing BBB: %v", res.Failed)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	e, _ := newTestExecutor(Config{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Second,
		MaxDelay:    10 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, e, "test.op", func(context.Context) (int, error) {
		return 0, retryableErr()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
