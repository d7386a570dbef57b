package maps

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"haul/internal/types"
)

const routeCachePrefix = "route:km:"

// CachedRoutes is a read-through redis cache in front of a RouteDistancer.
// Redis problems are logged and the provider is asked directly.
type CachedRoutes struct {
	next   RouteDistancer
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRoutes(next RouteDistancer, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRoutes {
	return &CachedRoutes{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "route_cache")),
	}
}

func (c *CachedRoutes) RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error) {
	if len(stops) < 2 {
		return c.next.RouteDistanceKm(ctx, stops)
	}
	key := routeCachePrefix + routeKey(stops)

	raw, err := c.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if km, perr := strconv.ParseFloat(raw, 64); perr == nil {
			return km, nil
		}
		c.logger.Warn("discarding malformed cache entry", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("route cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	km, err := c.next.RouteDistanceKm(ctx, stops)
	if err != nil {
		return 0, err
	}
	if err := c.redis.Set(ctx, key, strconv.FormatFloat(km, 'f', -1, 64), c.ttl).Err(); err != nil {
		c.logger.Warn("route cache write failed", slog.String("key", key), slog.Any("error", err))
	}
	return km, nil
}
