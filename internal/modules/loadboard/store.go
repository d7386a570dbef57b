// README: Load board store backed by Redis GEO plus a short-lived pending counter.
package loadboard

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"haul/internal/types"
)

const (
	pickupGeoKey    = "loadboard:pickups"
	pendingCountKey = "loadboard:pending_count"
	// pendingCountTTL lets the counter vanish when the ticker stops.
	pendingCountTTL = 60 * time.Second
)

type Hit struct {
	ID         types.ID
	DistanceKm float64
}

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) Add(ctx context.Context, id types.ID, pickup types.Point) error {
	return s.redis.GeoAdd(ctx, pickupGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pickup.Lng,
		Latitude:  pickup.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, ids ...types.ID) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}
	return s.redis.ZRem(ctx, pickupGeoKey, members...).Err()
}

// Nearby returns indexed pickups within radiusKm of p, closest first.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Hit, error) {
	results, err := s.redis.GeoRadius(ctx, pickupGeoKey, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return hits, nil
}

// Replace swaps the whole index for pickups and refreshes the pending counter.
func (s *Store) Replace(ctx context.Context, pickups map[types.ID]types.Point) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pickupGeoKey)
		if len(pickups) > 0 {
			locs := make([]*redis.GeoLocation, 0, len(pickups))
			for id, p := range pickups {
				locs = append(locs, &redis.GeoLocation{Name: string(id), Longitude: p.Lng, Latitude: p.Lat})
			}
			pipe.GeoAdd(ctx, pickupGeoKey, locs...)
		}
		pipe.Set(ctx, pendingCountKey, len(pickups), pendingCountTTL)
		return nil
	})
	return err
}

// PendingCount returns the last published number of pending loads and whether it is still fresh.
func (s *Store) PendingCount(ctx context.Context) (int, bool, error) {
	val, err := s.redis.Get(ctx, pendingCountKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
