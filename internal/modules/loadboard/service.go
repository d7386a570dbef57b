// README: Load board service keeps the pickup index in step with Pending shipments.
package loadboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"haul/internal/config"
	"haul/internal/modules/location"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

// Load is a Pending shipment as a driver sees it from a given point.
type Load struct {
	Shipment   *shipment.Shipment
	DistanceKm float64
}

type Service struct {
	store  *Store
	repo   shipment.Repository
	cfg    config.LoadBoardConfig
	logger *slog.Logger
}

func NewService(store *Store, repo shipment.Repository, cfg config.LoadBoardConfig, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "loadboard")),
	}
}

// Upsert indexes s when it is Pending and drops it otherwise.
func (s *Service) Upsert(ctx context.Context, sh *shipment.Shipment) error {
	if sh == nil {
		return nil
	}
	if sh.Status != shipment.StatusPending {
		return s.store.Remove(ctx, sh.ID)
	}
	return s.store.Add(ctx, sh.ID, sh.Pickup)
}

func (s *Service) Remove(ctx context.Context, ids ...types.ID) error {
	return s.store.Remove(ctx, ids...)
}

// Nearby lists Pending loads with a pickup within radiusKm of p, closest first.
// A non-positive radius falls back to the configured default. Index entries
// whose shipment is gone or no longer Pending are pruned on the way.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]Load, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = s.cfg.RadiusKm
	}
	hits, err := s.store.Nearby(ctx, p, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("%w: load board: %w", types.ErrExternalService, err)
	}

	loads := make([]Load, 0, len(hits))
	var stale []types.ID
	for _, h := range hits {
		sh, err := s.repo.Get(ctx, h.ID)
		if errors.Is(err, types.ErrNotFound) {
			stale = append(stale, h.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sh.Status != shipment.StatusPending {
			stale = append(stale, h.ID)
			continue
		}
		loads = append(loads, Load{Shipment: sh, DistanceKm: location.HaversineKm(p, sh.Pickup)})
	}
	if len(stale) > 0 {
		if err := s.store.Remove(ctx, stale...); err != nil {
			s.logger.Warn("prune stale loads failed", slog.Int("count", len(stale)), slog.Any("error", err))
		}
	}
	location.SortByDistance(loads, func(l Load) float64 { return l.DistanceKm })
	return loads, nil
}

// PendingCount reports the size of the board as of the last resync.
func (s *Service) PendingCount(ctx context.Context) (int, bool, error) {
	return s.store.PendingCount(ctx)
}

// Resync rebuilds the index from the repository.
func (s *Service) Resync(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	pickups := make(map[types.ID]types.Point, len(pending))
	for _, sh := range pending {
		pickups[sh.ID] = sh.Pickup
	}
	if err := s.store.Replace(ctx, pickups); err != nil {
		return 0, err
	}
	return len(pickups), nil
}

func (s *Service) RunResyncTicker(ctx context.Context) {
	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Resync(ctx)
			if err != nil {
				s.logger.Error("load board resync", slog.Any("error", err))
				continue
			}
			s.logger.Debug("load board resynced", slog.Int("pending", n))
		}
	}
}
