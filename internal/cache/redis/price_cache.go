package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hephyrius/selfmarket/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's normalized price pair is stored as a hash at key
// "price:{marketID}" with fields "yes", "no" and "ts" (Unix nanosecond
// timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// SetPrices stores the latest normalized price pair and timestamp for a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, prices domain.Prices, ts time.Time) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"yes": strconv.FormatFloat(prices.Yes, 'f', -1, 64),
		"no":  strconv.FormatFloat(prices.No, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices retrieves the latest price pair and timestamp for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) (domain.Prices, time.Time, error) {
	key := priceKey(marketID)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Prices{}, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.Prices{}, time.Time{}, domain.ErrNotFound
	}

	var prices domain.Prices
	if prices.Yes, err = parseField(vals, "yes"); err != nil {
		return domain.Prices{}, time.Time{}, fmt.Errorf("redis: prices %s: %w", marketID, err)
	}
	if prices.No, err = parseField(vals, "no"); err != nil {
		return domain.Prices{}, time.Time{}, fmt.Errorf("redis: prices %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Prices{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Prices{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return prices, time.Unix(0, tsNano), nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
