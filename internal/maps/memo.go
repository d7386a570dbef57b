package maps

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"haul/internal/types"
)

// Memo memoizes distances for the lifetime of one request. Concurrent
// lookups of the same stop sequence share a single provider call.
// Failures are never stored.
type Memo struct {
	next  RouteDistancer
	group singleflight.Group

	mu   sync.Mutex
	seen map[string]float64
}

func NewMemo(next RouteDistancer) *Memo {
	return &Memo{next: next, seen: make(map[string]float64)}
}

func (m *Memo) RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error) {
	key := routeKey(stops)

	m.mu.Lock()
	km, ok := m.seen[key]
	m.mu.Unlock()
	if ok {
		return km, nil
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		m.mu.Lock()
		km, ok := m.seen[key]
		m.mu.Unlock()
		if ok {
			return km, nil
		}
		km, err := m.next.RouteDistanceKm(ctx, stops)
		if err != nil {
			return 0.0, err
		}
		m.mu.Lock()
		m.seen[key] = km
		m.mu.Unlock()
		return km, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
