package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mytrader/marketfeed/internal/model"
	"github.com/mytrader/marketfeed/internal/resilience"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (f *fakeProvider) Name() string                  { return "fake" }
func (f *fakeProvider) Market() string                { return model.VenueBinance }
func (f *fakeProvider) UpdateInterval() time.Duration { return time.Hour }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool {
	return true
}

func (f *fakeProvider) GetMarketStatus(ctx context.Context, market string) (model.MarketStatus, error) {
	return model.MarketStatus{}, nil
}

func (f *fakeProvider) GetPrices(ctx context.Context, symbols []string) ([]model.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.PricePoint
	for _, sym := range symbols {
		f.calls = append(f.calls, sym)
		if err, ok := f.failFor[sym]; ok {
			return nil, err
		}
		out = append(out, model.PricePoint{
			Ticker:     sym,
			Venue:      model.VenueBinance,
			AssetClass: model.AssetClassCrypto,
			Price:      decimal.NewFromInt(100),
		})
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct {
	symbols []model.Symbol
	err     error
}

func (f *fakeSource) DueForBroadcast(ctx context.Context, ac model.AssetClass, venue string, min time.Duration) ([]model.Symbol, error) {
	return f.symbols, f.err
}

type fakeSink struct {
	mu     sync.Mutex
	points []model.PricePoint
	full   bool
}

func (f *fakeSink) Enqueue(pt model.PricePoint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.points = append(f.points, pt)
	return true
}

func (f *fakeSink) tickers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.points))
	for i, p := range f.points {
		out[i] = p.Ticker
	}
	return out
}

func newTestPoller(prov *fakeProvider, src SymbolSource, sink Sink) *Poller {
	exec := resilience.New(resilience.Config{MaxAttempts: 1, BreakerThreshold: 100})
	cfg := Config{
		PollInterval: time.Hour,
		RequestDelay: time.Millisecond,
		AssetClass:   model.AssetClassCrypto,
	}
	return New(cfg, prov, src, exec, sink, nil)
}

func dueSymbols(tickers ...string) []model.Symbol {
	out := make([]model.Symbol, len(tickers))
	for i, t := range tickers {
		out[i] = model.Symbol{Ticker: t, Venue: model.VenueBinance, AssetClass: model.AssetClassCrypto}
	}
	return out
}

func TestPollCycle_FetchesAllDueSymbols(t *testing.T) {
	prov := &fakeProvider{}
	sink := &fakeSink{}
	p := newTestPoller(prov, &fakeSource{symbols: dueSymbols("BTCUSDT", "ETHUSDT", "XRPUSDT")}, sink)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	if cooldown := p.pollCycle(); cooldown {
		t.Fatal("pollCycle reported cycle failure")
	}

	got := sink.tickers()
	want := []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"}
	if len(got) != len(want) {
		t.Fatalf("sink received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sink[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	stats := p.Stats()
	if stats.PointsFetched != 3 || stats.SymbolFailures != 0 {
		t.Errorf("stats = %+v, want 3 fetched, 0 failures", stats)
	}
}

func TestPollCycle_SymbolFailureIsSkipped(t *testing.T) {
	prov := &fakeProvider{failFor: map[string]error{
		"ETHUSDT": &resilience.Error{Kind: resilience.KindDataFormat, Err: errors.New("bad payload")},
	}}
	sink := &fakeSink{}
	p := newTestPoller(prov, &fakeSource{symbols: dueSymbols("BTCUSDT", "ETHUSDT", "XRPUSDT")}, sink)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	if cooldown := p.pollCycle(); cooldown {
		t.Fatal("symbol failure must not fail the cycle")
	}

	got := sink.tickers()
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "XRPUSDT" {
		t.Errorf("sink received %v, want the two healthy symbols", got)
	}
	if p.Stats().SymbolFailures != 1 {
		t.Errorf("SymbolFailures = %d, want 1", p.Stats().SymbolFailures)
	}
}

func TestPollCycle_SourceErrorTriggersCooldown(t *testing.T) {
	prov := &fakeProvider{}
	p := newTestPoller(prov, &fakeSource{err: errors.New("db down")}, &fakeSink{})
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	if cooldown := p.pollCycle(); !cooldown {
		t.Error("symbol load error must request a cooldown")
	}
	if prov.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", prov.callCount())
	}
}

func TestPollCycle_FullSinkDropsPoints(t *testing.T) {
	prov := &fakeProvider{}
	sink := &fakeSink{full: true}
	p := newTestPoller(prov, &fakeSource{symbols: dueSymbols("BTCUSDT")}, sink)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	defer p.cancel()

	p.pollCycle()

	if p.Stats().PointsFetched != 0 {
		t.Errorf("PointsFetched = %d, want 0 when sink rejects", p.Stats().PointsFetched)
	}
}

func TestStartStop(t *testing.T) {
	prov := &fakeProvider{}
	sink := &fakeSink{}
	p := newTestPoller(prov, &fakeSource{symbols: dueSymbols("BTCUSDT")}, sink)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The initial cycle runs immediately on start.
	deadline := time.After(2 * time.Second)
	for prov.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial poll cycle never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
