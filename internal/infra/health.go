package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Health pings the backing services. Nil dependencies are skipped.
type Health struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// Check returns a status per dependency and the first failure.
func (h Health) Check(ctx context.Context) (map[string]string, error) {
	status := map[string]string{}
	var firstErr error

	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			status["postgres"] = "down"
			firstErr = fmt.Errorf("postgres: %w", err)
		} else {
			status["postgres"] = "up"
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			if firstErr == nil {
				firstErr = fmt.Errorf("redis: %w", err)
			}
		} else {
			status["redis"] = "up"
		}
	}
	return status, firstErr
}
