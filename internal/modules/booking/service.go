// README: Booking service prices, persists, assigns and combines shipments.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"haul/internal/events"
	"haul/internal/maps"
	"haul/internal/modules/combine"
	"haul/internal/modules/demand"
	"haul/internal/modules/pricing"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

// LoadIndex mirrors Pending shipments for the driver load board.
type LoadIndex interface {
	Upsert(ctx context.Context, s *shipment.Shipment) error
	Remove(ctx context.Context, ids ...types.ID) error
}

type Service struct {
	repo       shipment.Repository
	routes     maps.RouteDistancer
	engine     *pricing.Engine
	tracker    *demand.Tracker
	planner    *combine.Planner
	publisher  events.Publisher
	index      LoadIndex
	maxExtraKm float64
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Service)

func WithLoadIndex(index LoadIndex) Option {
	return func(s *Service) { s.index = index }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	repo shipment.Repository,
	routes maps.RouteDistancer,
	engine *pricing.Engine,
	tracker *demand.Tracker,
	planner *combine.Planner,
	maxExtraKm float64,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		repo:       repo,
		routes:     routes,
		engine:     engine,
		tracker:    tracker,
		planner:    planner,
		publisher:  events.Noop{},
		maxExtraKm: maxExtraKm,
		logger:     logger.With(slog.String("component", "booking")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create prices and stores a new shipment. The demand rescale of its neighbours
// and the insert commit together, so neighbours move exactly once per stored booking.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*shipment.Shipment, error) {
	if cmd.ShipperID == "" {
		return nil, fmt.Errorf("%w: shipper id is required", types.ErrValidation)
	}
	if cmd.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("%w: expiration time is required", types.ErrValidation)
	}

	id := shipment.NewID()
	req := estimateRequest(id, cmd)
	memo := maps.NewMemo(s.routes)
	engine := s.engine.WithRoutes(memo)

	// Validates and warms the memo so no provider call happens inside the transaction.
	if _, err := engine.Estimate(ctx, req); err != nil {
		return nil, err
	}

	var sh *shipment.Shipment
	var rescaled []demand.Rescaled
	err := s.repo.WithinTx(ctx, func(tx shipment.Repository) error {
		rescaled = rescaled[:0]
		tracker := s.tracker.WithRepository(tx, func(r demand.Rescaled) { rescaled = append(rescaled, r) })
		quote, err := engine.WithDemand(tracker.ApplyDemandAndRescale).Estimate(ctx, req)
		if err != nil {
			return err
		}

		now := s.now()
		sh = &shipment.Shipment{
			ID:                    id,
			ShipperID:             cmd.ShipperID,
			CompanyName:           strings.TrimSpace(cmd.CompanyName),
			Pickup:                cmd.Pickup,
			Dropoff:               cmd.Dropoff,
			Material:              cmd.Material,
			QuantityTonnes:        cmd.QuantityTonnes,
			Fragile:               cmd.Fragile,
			RefrigerationRequired: cmd.RefrigerationRequired,
			InsuranceRequested:    cmd.InsuranceRequested,
			VehicleClass:          cmd.VehicleClass,
			CreatedAt:             now,
			ExpiresAt:             cmd.ExpiresAt,
			DistanceKm:            quote.DistanceKm,
			Price:                 quote.Price,
			Status:                shipment.StatusPending,
		}
		return tx.Create(ctx, sh)
	})
	if err != nil {
		return nil, fmt.Errorf("create shipment: %w", err)
	}

	s.logger.Info("shipment created",
		slog.String("shipment_id", string(sh.ID)),
		slog.Float64("price", sh.Price),
		slog.Float64("distance_km", sh.DistanceKm),
		slog.Int("rescaled", len(rescaled)))

	now := s.now()
	evs := []events.Event{{
		Type:       events.ShipmentCreated,
		ShipmentID: string(sh.ID),
		Status:     string(sh.Status),
		Price:      sh.Price,
		OccurredAt: now,
	}}
	for _, r := range rescaled {
		evs = append(evs, events.Event{
			Type:       events.ShipmentRepriced,
			ShipmentID: string(r.ID),
			Price:      r.NewPrice,
			RelatedIDs: []string{string(sh.ID)},
			OccurredAt: now,
		})
	}
	s.publish(ctx, evs...)
	s.indexUpsert(ctx, sh)
	return sh, nil
}

// Quote prices a prospective shipment without storing it or touching neighbours.
func (s *Service) Quote(ctx context.Context, cmd CreateCommand) (pricing.Quote, error) {
	if cmd.ExpiresAt.IsZero() {
		return pricing.Quote{}, fmt.Errorf("%w: expiration time is required", types.ErrValidation)
	}
	engine := s.engine.WithRoutes(maps.NewMemo(s.routes)).WithDemand(s.tracker.Peek)
	return engine.Estimate(ctx, estimateRequest("", cmd))
}

func (s *Service) Get(ctx context.Context, id types.ID) (*shipment.Shipment, error) {
	return s.repo.Get(ctx, id)
}

// Assign hands a Pending shipment to a driver. Only one concurrent caller wins.
// List returns shipments matching f. An empty filter lists every shipment.
func (s *Service) List(ctx context.Context, f shipment.ListFilter) ([]*shipment.Shipment, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, f.Status)
	}
	return s.repo.List(ctx, f)
}

// TripStats summarises every completed shipment.
func (s *Service) TripStats(ctx context.Context) (TripStats, error) {
	completed, err := s.repo.List(ctx, shipment.ListFilter{Status: shipment.StatusCompleted})
	if err != nil {
		return TripStats{}, err
	}
	return SummarizeTrips(completed), nil
}

func (s *Service) Assign(ctx context.Context, cmd AssignCommand) (*shipment.Shipment, error) {
	if cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: driver id is required", types.ErrValidation)
	}
	sh, err := s.transition(ctx, cmd.ShipmentID, shipment.StatusAssigned, &cmd.DriverID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Type:       events.ShipmentAssigned,
		ShipmentID: string(sh.ID),
		Status:     string(sh.Status),
		DriverID:   string(cmd.DriverID),
		OccurredAt: s.now(),
	})
	s.indexRemove(ctx, sh.ID)
	return sh, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*shipment.Shipment, error) {
	sh, err := s.transition(ctx, cmd.ShipmentID, shipment.StatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("shipment cancelled", slog.String("shipment_id", string(sh.ID)), slog.String("reason", cmd.Reason))
	s.publish(ctx, events.Event{
		Type:       events.ShipmentCancelled,
		ShipmentID: string(sh.ID),
		Status:     string(sh.Status),
		OccurredAt: s.now(),
	})
	s.indexRemove(ctx, sh.ID)
	return sh, nil
}

func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) (*shipment.Shipment, error) {
	sh, err := s.transition(ctx, cmd.ShipmentID, shipment.StatusCompleted, nil)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{
		Type:       events.ShipmentCompleted,
		ShipmentID: string(sh.ID),
		Status:     string(sh.Status),
		OccurredAt: s.now(),
	})
	return sh, nil
}

func (s *Service) transition(ctx context.Context, id types.ID, to shipment.Status, driverID *types.ID) (*shipment.Shipment, error) {
	sh, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !shipment.CanTransition(sh.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", types.ErrInvalidState, sh.Status, to)
	}
	at := s.now()
	ok, err := s.repo.UpdateStatus(ctx, sh.ID, sh.Status, to, sh.Version, driverID, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("shipment %s: %w", sh.ID, types.ErrConflict)
	}
	sh.Status = to
	sh.Version++
	if driverID != nil {
		d := *driverID
		sh.DriverID = &d
	}
	if to == shipment.StatusCompleted {
		sh.CompletedAt = &at
	}
	return sh, nil
}

// Candidates lists Pending shipments that fit into main's trip, smallest detour first.
// Every Pending shipment is evaluated; route lookups are memoised for the call.
func (s *Service) Candidates(ctx context.Context, mainID types.ID) ([]combine.Evaluation, error) {
	main, err := s.repo.Get(ctx, mainID)
	if err != nil {
		return nil, err
	}
	if main.Status != shipment.StatusPending {
		return nil, fmt.Errorf("%w: shipment %s is %s", types.ErrInvalidState, main.ID, main.Status)
	}
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return s.planner.WithRoutes(maps.NewMemo(s.routes)).Rank(ctx, main, pending, s.maxExtraKm)
}

// Combine merges candidate into main when the detour fits the budget. The survivor
// becomes Assigned with the combined route and the candidate row is deleted.
func (s *Service) Combine(ctx context.Context, cmd CombineCommand) (*shipment.Shipment, error) {
	main, err := s.repo.Get(ctx, cmd.MainID)
	if err != nil {
		return nil, err
	}
	cand, err := s.repo.Get(ctx, cmd.CandidateID)
	if err != nil {
		return nil, err
	}

	ev, err := s.planner.WithRoutes(maps.NewMemo(s.routes)).Evaluate(ctx, main, cand, s.maxExtraKm)
	if err != nil {
		return nil, err
	}
	if !ev.Feasible {
		return nil, fmt.Errorf("%w: detour %.1f km exceeds %.1f km", ErrNotFeasible, ev.ExtraKm, s.maxExtraKm)
	}

	var merged *shipment.Shipment
	err = s.repo.WithinTx(ctx, func(tx shipment.Repository) error {
		// lock in a stable order so two opposite combines cannot deadlock
		first, second := main.ID, cand.ID
		if second < first {
			first, second = second, first
		}
		locked := make(map[types.ID]*shipment.Shipment, 2)
		for _, id := range []types.ID{first, second} {
			row, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = row
		}
		m, c := locked[main.ID], locked[cand.ID]

		// Locations never change, so the evaluation still holds for the fresh rows.
		out, err := shipment.Merge(m, c, ev.Plan())
		if err != nil {
			return err
		}
		ok, err := tx.SaveCombined(ctx, out, m.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("save combined %s: %w", m.ID, types.ErrConflict)
		}
		ok, err = tx.Delete(ctx, c.ID, c.Version)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delete merged %s: %w", c.ID, types.ErrConflict)
		}
		merged = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("combine %s with %s: %w", cmd.MainID, cmd.CandidateID, err)
	}

	s.logger.Info("shipments combined",
		slog.String("shipment_id", string(merged.ID)),
		slog.String("merged_id", string(cand.ID)),
		slog.String("order", string(ev.Order)),
		slog.Float64("extra_km", ev.ExtraKm),
		slog.Float64("combined_price", merged.CombinedPrice))

	s.publish(ctx, events.Event{
		Type:       events.ShipmentCombined,
		ShipmentID: string(merged.ID),
		Status:     string(merged.Status),
		Price:      merged.Price,
		RelatedIDs: []string{string(main.ID), string(cand.ID)},
		OccurredAt: s.now(),
	})
	s.indexRemove(ctx, main.ID, cand.ID)
	return merged, nil
}

// ExpireOverdue moves Pending shipments past their deadline to Expired.
// Shipments that changed concurrently are left for the next run.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.repo.ListExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	expired := make([]types.ID, 0, len(overdue))
	var evs []events.Event
	for _, sh := range overdue {
		ok, err := s.repo.UpdateStatus(ctx, sh.ID, shipment.StatusPending, shipment.StatusExpired, sh.Version, nil, s.now())
		if err != nil {
			return len(expired), err
		}
		if !ok {
			continue
		}
		expired = append(expired, sh.ID)
		evs = append(evs, events.Event{
			Type:       events.ShipmentExpired,
			ShipmentID: string(sh.ID),
			Status:     string(shipment.StatusExpired),
			OccurredAt: s.now(),
		})
	}
	if len(expired) > 0 {
		s.logger.Info("expired overdue shipments", slog.Int("count", len(expired)))
		s.publish(ctx, evs...)
		s.indexRemove(ctx, expired...)
	}
	return len(expired), nil
}

func (s *Service) RunExpiryTicker(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireOverdue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("expire overdue shipments", slog.Any("error", err))
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.logger.Warn("publish events failed", slog.Int("count", len(evs)), slog.Any("error", err))
	}
}

func (s *Service) indexUpsert(ctx context.Context, sh *shipment.Shipment) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, sh); err != nil {
		s.logger.Warn("load board upsert failed", slog.String("shipment_id", string(sh.ID)), slog.Any("error", err))
	}
}

func (s *Service) indexRemove(ctx context.Context, ids ...types.ID) {
	if s.index == nil || len(ids) == 0 {
		return
	}
	if err := s.index.Remove(ctx, ids...); err != nil {
		s.logger.Warn("load board remove failed", slog.Any("error", err))
	}
}

func estimateRequest(id types.ID, cmd CreateCommand) pricing.EstimateRequest {
	return pricing.EstimateRequest{
		ShipmentID:            id,
		Pickup:                cmd.Pickup,
		Dropoff:               cmd.Dropoff,
		VehicleClass:          cmd.VehicleClass,
		Material:              cmd.Material,
		QuantityTonnes:        cmd.QuantityTonnes,
		ExpiresAt:             cmd.ExpiresAt,
		InsuranceRequested:    cmd.InsuranceRequested,
		RefrigerationRequired: cmd.RefrigerationRequired,
		Fragile:               cmd.Fragile,
	}
}
