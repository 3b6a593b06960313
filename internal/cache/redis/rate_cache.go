package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// rateTTL bounds how long a rate survives when nobody refreshes it. Callers
// apply their own freshness window on top.
const rateTTL = time.Hour

// RateCache implements domain.RateCache using Redis hashes. Each currency is
// stored at "rate:{code}" with fields "btc" (fiat per bitcoin) and "ts" (Unix
// nanoseconds).
type RateCache struct {
	c   *Client
	rdb *redis.Client
}

// NewRateCache creates a RateCache backed by the given Client.
func NewRateCache(c *Client) *RateCache {
	return &RateCache{c: c, rdb: c.Underlying()}
}

func (rc *RateCache) key(code string) string {
	return rc.c.Key("rate:" + code)
}

// SetRate stores the latest rate for a currency.
func (rc *RateCache) SetRate(ctx context.Context, fiatCode string, rate float64, ts time.Time) error {
	key := rc.key(fiatCode)
	pipe := rc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"btc": strconv.FormatFloat(rate, 'f', -1, 64),
		"ts":  strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, rateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", fiatCode, err)
	}
	return nil
}

// GetRate returns the cached rate and when it was fetched. It returns
// domain.ErrNotFound when nothing is cached.
func (rc *RateCache) GetRate(ctx context.Context, fiatCode string) (float64, time.Time, error) {
	vals, err := rc.rdb.HGetAll(ctx, rc.key(fiatCode)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get rate %s: %w", fiatCode, err)
	}
	rateStr, ok := vals["btc"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse rate %s: %w", fiatCode, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", fiatCode, err)
	}
	return rate, time.Unix(0, tsNano), nil
}

var _ domain.RateCache = (*RateCache)(nil)
