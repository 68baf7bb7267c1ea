package fxrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const sharedRateKey = "fx:rate:USD:UZS"

// RedisCache shares the last fetched rate between service instances so that
// only one of them has to hit the upstream feed per TTL window.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, key: sharedRateKey}
}

// Get returns the shared rate and when it was fetched. ok is false on a miss.
func (c *RedisCache) Get(ctx context.Context) (rate decimal.Decimal, fetchedAt time.Time, ok bool, err error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, time.Time{}, false, nil
		}
		return decimal.Zero, time.Time{}, false, fmt.Errorf("read shared rate: %w", err)
	}
	if len(fields) == 0 {
		return decimal.Zero, time.Time{}, false, nil
	}

	rate, err = decimal.NewFromString(fields["rate"])
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("parse shared rate: %w", err)
	}
	nanos, err := strconv.ParseInt(fields["fetched_at"], 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, false, fmt.Errorf("parse shared rate timestamp: %w", err)
	}
	return rate, time.Unix(0, nanos).UTC(), true, nil
}

// Set stores the rate with the given expiry.
func (c *RedisCache) Set(ctx context.Context, rate decimal.Decimal, fetchedAt time.Time, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.key, "rate", rate.String(), "fetched_at", strconv.FormatInt(fetchedAt.UnixNano(), 10))
		pipe.Expire(ctx, c.key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write shared rate: %w", err)
	}
	return nil
}
