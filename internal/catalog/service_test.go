package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mytrader/marketfeed/internal/model"
)

// fakeStore counts reads and serves a fixed symbol list.
type fakeStore struct {
	symbols     []model.Symbol
	activeCalls int
	broadcasts  map[uuid.UUID]time.Time
}

func (f *fakeStore) ActiveTracked(ctx context.Context, ac model.AssetClass, venue string) ([]model.Symbol, error) {
	f.activeCalls++
	out := make([]model.Symbol, len(f.symbols))
	copy(out, f.symbols)
	return out, nil
}

func (f *fakeStore) DefaultSymbols(ctx context.Context) ([]model.Symbol, error) { return nil, nil }

func (f *fakeStore) UserSymbols(ctx context.Context, userID uuid.UUID) ([]model.Symbol, error) {
	return nil, nil
}

func (f *fakeStore) UpdatePreferences(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) error {
	return nil
}

func (f *fakeStore) SetLastBroadcast(ctx context.Context, id uuid.UUID, ts time.Time) error {
	if f.broadcasts == nil {
		f.broadcasts = make(map[uuid.UUID]time.Time)
	}
	f.broadcasts[id] = ts
	return nil
}

func sym(ticker string, priority int) model.Symbol {
	return model.Symbol{
		ID:                uuid.New(),
		Ticker:            ticker,
		Venue:             model.VenueBinance,
		AssetClass:        model.AssetClassCrypto,
		IsActive:          true,
		IsTracked:         true,
		BroadcastPriority: priority,
	}
}

type serviceClock struct{ now time.Time }

func (c *serviceClock) Now() time.Time          { return c.now }
func (c *serviceClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(store Store, ttl, minInterval time.Duration) (*Service, *serviceClock) {
	clock := &serviceClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(Config{CacheTTL: ttl, MinBroadcastInterval: minInterval}, store, WithClock(clock.Now))
	return svc, clock
}

func TestActiveForBroadcast_CachesWithinTTL(t *testing.T) {
	store := &fakeStore{symbols: []model.Symbol{sym("BTCUSDT", 10), sym("ETHUSDT", 5)}}
	svc, clock := newTestService(store, 30*time.Second, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.ActiveForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance); err != nil {
			t.Fatalf("ActiveForBroadcast failed: %v", err)
		}
	}
	if store.activeCalls != 1 {
		t.Errorf("store reads = %d, want 1 (cached)", store.activeCalls)
	}

	// TTL expiry forces a reload.
	clock.Advance(31 * time.Second)
	svc.ActiveForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance)
	if store.activeCalls != 2 {
		t.Errorf("store reads after TTL = %d, want 2", store.activeCalls)
	}
}

func TestReload_Invalidates(t *testing.T) {
	store := &fakeStore{symbols: []model.Symbol{sym("BTCUSDT", 10)}}
	svc, _ := newTestService(store, time.Hour, time.Second)
	ctx := context.Background()

	svc.ActiveForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance)
	svc.Reload()
	svc.ActiveForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance)

	if store.activeCalls != 2 {
		t.Errorf("store reads = %d, want 2 after explicit reload", store.activeCalls)
	}
}

func TestDueForBroadcast_Monotonic(t *testing.T) {
	btc := sym("BTCUSDT", 10)
	eth := sym("ETHUSDT", 5)
	store := &fakeStore{symbols: []model.Symbol{btc, eth}}
	svc, clock := newTestService(store, time.Hour, 5*time.Second)
	ctx := context.Background()

	// Never-broadcast symbols are due, in priority order.
	due, err := svc.DueForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance, 5*time.Second)
	if err != nil {
		t.Fatalf("DueForBroadcast failed: %v", err)
	}
	if len(due) != 2 || due[0].Ticker != "BTCUSDT" || due[1].Ticker != "ETHUSDT" {
		t.Fatalf("due = %+v, want [BTCUSDT ETHUSDT]", tickersOf(due))
	}

	// Marking one broadcast excludes it immediately, through the warm cache.
	if err := svc.MarkBroadcast(ctx, btc.ID, clock.Now()); err != nil {
		t.Fatalf("MarkBroadcast failed: %v", err)
	}
	due, _ = svc.DueForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance, 5*time.Second)
	if len(due) != 1 || due[0].Ticker != "ETHUSDT" {
		t.Errorf("due after mark = %v, want [ETHUSDT]", tickersOf(due))
	}

	// Still excluded just before the interval boundary.
	clock.Advance(4 * time.Second)
	due, _ = svc.DueForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance, 5*time.Second)
	if len(due) != 1 {
		t.Errorf("due at 4s = %v, want [ETHUSDT]", tickersOf(due))
	}

	// Due again once the interval has fully elapsed.
	clock.Advance(time.Second)
	due, _ = svc.DueForBroadcast(ctx, model.AssetClassCrypto, model.VenueBinance, 5*time.Second)
	if len(due) != 2 {
		t.Errorf("due at 5s = %v, want both", tickersOf(due))
	}

	// The mark also reached the store.
	if _, ok := store.broadcasts[btc.ID]; !ok {
		t.Error("MarkBroadcast not persisted to store")
	}
}

func TestFind(t *testing.T) {
	btc := sym("BTCUSDT", 10)
	store := &fakeStore{symbols: []model.Symbol{btc}}
	svc, _ := newTestService(store, time.Hour, time.Second)
	ctx := context.Background()

	got, ok, err := svc.Find(ctx, model.AssetClassCrypto, model.VenueBinance, "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("Find = %v, %v; want hit", ok, err)
	}
	if got.ID != btc.ID {
		t.Errorf("Find returned wrong symbol")
	}

	_, ok, err = svc.Find(ctx, model.AssetClassCrypto, model.VenueBinance, "XRPUSDT")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if ok {
		t.Error("Find reported unknown ticker as present")
	}
}

func tickersOf(symbols []model.Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.Ticker
	}
	return out
}
