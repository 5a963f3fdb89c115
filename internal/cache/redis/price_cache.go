package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PriceCache stores the last good mark per symbol in Redis hashes. Each
// symbol lives at key "mark:{SYMBOL}" with fields "price" and "ts" (Unix
// nanosecond timestamp). Reads filter out entries older than the caller's
// maxAge, so a stale cache never masquerades as a live quote.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func markKey(symbol string) string {
	return "mark:" + symbol
}

// SetPrices stores the latest marks for all symbols using a pipeline.
func (pc *PriceCache) SetPrices(ctx context.Context, prices map[string]float64) error {
	if len(prices) == 0 {
		return nil
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	pipe := pc.rdb.Pipeline()
	for symbol, price := range prices {
		pipe.HSet(ctx, markKey(symbol), map[string]interface{}{
			"price": strconv.FormatFloat(price, 'f', -1, 64),
			"ts":    ts,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set marks: %w", err)
	}
	return nil
}

// GetPrices retrieves cached marks no older than maxAge. Symbols whose keys
// are missing, unparsable, or expired are silently omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string, maxAge time.Duration) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, symbol := range symbols {
		cmds[symbol] = pipe.HGetAll(ctx, markKey(symbol))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get marks pipeline: %w", err)
	}

	cutoff := time.Now().Add(-maxAge).UnixNano()
	result := make(map[string]float64, len(symbols))
	for symbol, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
		if err != nil || tsNano < cutoff {
			continue
		}
		price, err := strconv.ParseFloat(vals["price"], 64)
		if err != nil {
			continue
		}
		result[symbol] = price
	}

	return result, nil
}
