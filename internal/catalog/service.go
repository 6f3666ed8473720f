package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mytrader/marketfeed/internal/model"
)

// Config holds catalog service settings.
type Config struct {
	CacheTTL             time.Duration // Active-symbol cache lifetime (default: 30s)
	MinBroadcastInterval time.Duration // Default rebroadcast floor (default: 5s)
}

// cacheEntry is one cached active-symbol list plus a ticker index.
type cacheEntry struct {
	symbols  []model.Symbol
	byTicker map[string]model.Symbol
	loadedAt time.Time
}

// Service answers which symbols are tracked and which are due for
// rebroadcast, caching store reads with a short TTL.
type Service struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]*cacheEntry // assetClass|venue → entry

	// lastBroadcast shadows the store's last_broadcast_at so a fresh mark
	// is visible to the very next due-check, even through a stale cache.
	lastBroadcast map[uuid.UUID]time.Time
}

// Option customizes the service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a catalog service over a store.
func NewService(cfg Config, store Store, opts ...Option) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.MinBroadcastInterval <= 0 {
		cfg.MinBroadcastInterval = 5 * time.Second
	}

	s := &Service{
		cfg:           cfg,
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		cache:         make(map[string]*cacheEntry),
		lastBroadcast: make(map[uuid.UUID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func cacheKey(assetClass model.AssetClass, venue string) string {
	return string(assetClass) + "|" + venue
}

// ActiveForBroadcast returns active+tracked symbols for an asset class and
// venue, ordered by broadcast priority descending.
func (s *Service) ActiveForBroadcast(ctx context.Context, assetClass model.AssetClass, venue string) ([]model.Symbol, error) {
	entry, err := s.entry(ctx, assetClass, venue)
	if err != nil {
		return nil, err
	}

	out := make([]model.Symbol, len(entry.symbols))
	copy(out, entry.symbols)
	return out, nil
}

// DueForBroadcast returns the subset of active symbols whose last broadcast
// is at least minInterval ago, preserving priority order. A non-positive
// minInterval falls back to the configured floor.
func (s *Service) DueForBroadcast(ctx context.Context, assetClass model.AssetClass, venue string, minInterval time.Duration) ([]model.Symbol, error) {
	if minInterval <= 0 {
		minInterval = s.cfg.MinBroadcastInterval
	}

	entry, err := s.entry(ctx, assetClass, venue)
	if err != nil {
		return nil, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.Symbol
	for _, sym := range entry.symbols {
		last := sym.LastBroadcastAt
		if marked, ok := s.lastBroadcast[sym.ID]; ok && marked.After(last) {
			last = marked
		}
		if last.IsZero() || now.Sub(last) >= minInterval {
			due = append(due, sym)
		}
	}
	return due, nil
}

// MarkBroadcast records a successful broadcast for a symbol. The in-memory
// index is updated before the store write so a concurrent due-check cannot
// re-report the symbol inside its interval.
func (s *Service) MarkBroadcast(ctx context.Context, symbolID uuid.UUID, ts time.Time) error {
	s.mu.Lock()
	s.lastBroadcast[symbolID] = ts
	s.mu.Unlock()

	if err := s.store.SetLastBroadcast(ctx, symbolID, ts); err != nil {
		return fmt.Errorf("persist broadcast time: %w", err)
	}
	return nil
}

// Find looks up a tracked symbol by ticker within an asset class and venue.
func (s *Service) Find(ctx context.Context, assetClass model.AssetClass, venue, ticker string) (model.Symbol, bool, error) {
	entry, err := s.entry(ctx, assetClass, venue)
	if err != nil {
		return model.Symbol{}, false, err
	}
	sym, ok := entry.byTicker[ticker]
	return sym, ok, nil
}

// Reload drops all cached symbol lists; the next read goes to the store.
func (s *Service) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]*cacheEntry)
	s.mu.Unlock()

	s.logger.Debug("symbol cache invalidated")
}

// DefaultSymbols returns the default client subscription set.
func (s *Service) DefaultSymbols(ctx context.Context) ([]model.Symbol, error) {
	return s.store.DefaultSymbols(ctx)
}

// UserSymbols returns a user's customized subscription set.
func (s *Service) UserSymbols(ctx context.Context, userID uuid.UUID) ([]model.Symbol, error) {
	return s.store.UserSymbols(ctx, userID)
}

// UpdatePreferences replaces a user's subscription set and invalidates the
// cache so preference-driven reads see the change.
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, symbolIDs []uuid.UUID) error {
	if err := s.store.UpdatePreferences(ctx, userID, symbolIDs); err != nil {
		return err
	}
	s.Reload()
	return nil
}

// entry returns the cached symbol list for a key, loading it from the store
// when missing or expired.
func (s *Service) entry(ctx context.Context, assetClass model.AssetClass, venue string) (*cacheEntry, error) {
	key := cacheKey(assetClass, venue)
	now := s.now()

	s.mu.Lock()
	if e, ok := s.cache[key]; ok && now.Sub(e.loadedAt) < s.cfg.CacheTTL {
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	// Load outside the lock; a concurrent duplicate load is harmless.
	symbols, err := s.store.ActiveTracked(ctx, assetClass, venue)
	if err != nil {
		return nil, fmt.Errorf("load active symbols: %w", err)
	}

	byTicker := make(map[string]model.Symbol, len(symbols))
	for _, sym := range symbols {
		byTicker[sym.Ticker] = sym
	}

	e := &cacheEntry{symbols: symbols, byTicker: byTicker, loadedAt: now}

	s.mu.Lock()
	s.cache[key] = e
	s.mu.Unlock()

	return e, nil
}
