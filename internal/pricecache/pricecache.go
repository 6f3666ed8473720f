// Package pricecache keeps the most recent quote per instrument in Redis so
// late-joining subscribers and API readers get a current snapshot without
// touching the ingest path.
package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mytrader/marketfeed/internal/model"
)

// ErrNotFound is returned when no cached quote exists for a ticker.
var ErrNotFound = errors.New("pricecache: no cached price")

const keyPrefix = "latest"

// Cache stores the latest PricePoint per asset class and ticker with a TTL,
// so a dead feed ages out instead of serving stale prices forever.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a latest-price cache. A non-positive TTL defaults to 5m.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(assetClass model.AssetClass, ticker string) string {
	return keyPrefix + ":" + strings.ToLower(string(assetClass)) + ":" + ticker
}

// SetLatest stores a point, replacing any previous quote for its ticker.
func (c *Cache) SetLatest(ctx context.Context, point model.PricePoint) error {
	payload, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("marshal price point: %w", err)
	}
	if err := c.rdb.Set(ctx, key(point.AssetClass, point.Ticker), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", point.Ticker, err)
	}
	return nil
}

// Latest returns the cached quote for one ticker.
func (c *Cache) Latest(ctx context.Context, assetClass model.AssetClass, ticker string) (model.PricePoint, error) {
	payload, err := c.rdb.Get(ctx, key(assetClass, ticker)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PricePoint{}, ErrNotFound
	}
	if err != nil {
		return model.PricePoint{}, fmt.Errorf("read cached %s: %w", ticker, err)
	}

	var point model.PricePoint
	if err := json.Unmarshal(payload, &point); err != nil {
		return model.PricePoint{}, fmt.Errorf("decode cached %s: %w", ticker, err)
	}
	return point, nil
}

// LatestMany returns cached quotes for the given tickers in one round trip.
// Tickers without a cached quote are simply absent from the result.
func (c *Cache) LatestMany(ctx context.Context, assetClass model.AssetClass, tickers []string) ([]model.PricePoint, error) {
	if len(tickers) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = key(assetClass, t)
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read cached quotes: %w", err)
	}

	out := make([]model.PricePoint, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var point model.PricePoint
		if err := json.Unmarshal([]byte(s), &point); err != nil {
			return nil, fmt.Errorf("decode cached %s: %w", tickers[i], err)
		}
		out = append(out, point)
	}
	return out, nil
}
