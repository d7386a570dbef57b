// README: Demand tracker counts nearby pending shipments and rescales their prices.
package demand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"haul/internal/modules/location"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

const (
	// Increment is the demand added per nearby pending shipment.
	Increment = 0.05
	// maxCASAttempts bounds retries when a neighbour changes under us.
	maxCASAttempts = 5
)

// ErrRescaleContention is returned when a neighbour kept changing for every attempt.
var ErrRescaleContention = errors.New("neighbour price kept changing")

// Rescaled reports one neighbour whose price moved.
type Rescaled struct {
	ID       types.ID
	OldPrice float64
	NewPrice float64
}

type Tracker struct {
	repo               shipment.Repository
	insuranceSurcharge float64
	logger             *slog.Logger
	onRescale          func(Rescaled)
}

func NewTracker(repo shipment.Repository, insuranceSurcharge float64, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:               repo,
		insuranceSurcharge: insuranceSurcharge,
		logger:             logger.With(slog.String("component", "demand")),
	}
}

// WithRepository returns a tracker bound to repo, typically a transaction.
// onRescale, when set, is called for every neighbour written.
func (t *Tracker) WithRepository(repo shipment.Repository, onRescale func(Rescaled)) *Tracker {
	c := *t
	c.repo = repo
	c.onRescale = onRescale
	return &c
}

// Peek returns the demand factor without touching any neighbour.
func (t *Tracker) Peek(ctx context.Context, pickup, dropoff types.Point, radiusKm float64, exclude types.ID) (float64, error) {
	neighbours, err := t.neighbours(ctx, pickup, dropoff, radiusKm, exclude)
	if err != nil {
		return 0, err
	}
	return 1.0 + Increment*float64(len(neighbours)), nil
}

// ApplyDemandAndRescale returns the demand factor for a new shipment and raises
// every neighbour's price by one increment. Each neighbour is written with a
// version compare-and-swap; a neighbour that stopped being Pending is skipped.
func (t *Tracker) ApplyDemandAndRescale(ctx context.Context, pickup, dropoff types.Point, radiusKm float64, exclude types.ID) (float64, error) {
	neighbours, err := t.neighbours(ctx, pickup, dropoff, radiusKm, exclude)
	if err != nil {
		return 0, err
	}
	for _, n := range neighbours {
		if err := t.rescale(ctx, n); err != nil {
			return 0, err
		}
	}
	return 1.0 + Increment*float64(len(neighbours)), nil
}

func (t *Tracker) neighbours(ctx context.Context, pickup, dropoff types.Point, radiusKm float64, exclude types.ID) ([]*shipment.Shipment, error) {
	if radiusKm <= 0 {
		return nil, fmt.Errorf("%w: demand radius must be positive", types.ErrValidation)
	}
	near, err := t.repo.FindPendingNear(ctx, pickup, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("find pending near %s: %w", pickup, err)
	}
	out := make([]*shipment.Shipment, 0, len(near))
	for _, s := range near {
		if s.ID == exclude {
			continue
		}
		if location.WithinKm(dropoff, s.Dropoff, radiusKm) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *Tracker) rescale(ctx context.Context, s *shipment.Shipment) error {
	cur := s
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		if cur.Status != shipment.StatusPending {
			t.logger.Debug("skip rescale, no longer pending",
				slog.String("shipment_id", string(cur.ID)), slog.String("status", string(cur.Status)))
			return nil
		}
		next := RescaledPrice(cur.Price, t.insuranceFor(cur))
		ok, err := t.repo.UpdatePrice(ctx, cur.ID, cur.Version, next)
		if err != nil {
			return fmt.Errorf("rescale %s: %w", cur.ID, err)
		}
		if ok {
			if t.onRescale != nil {
				t.onRescale(Rescaled{ID: cur.ID, OldPrice: cur.Price, NewPrice: next})
			}
			return nil
		}

		cur, err = t.repo.Get(ctx, s.ID)
		if errors.Is(err, types.ErrNotFound) {
			// merged away or deleted meanwhile
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload %s: %w", s.ID, err)
		}
	}
	return fmt.Errorf("rescale %s after %d attempts: %w: %w", s.ID, maxCASAttempts, ErrRescaleContention, types.ErrConflict)
}

func (t *Tracker) insuranceFor(s *shipment.Shipment) float64 {
	if s.InsuranceRequested {
		return t.insuranceSurcharge
	}
	return 0
}

// RescaledPrice applies one demand increment to the distance-driven part of a price.
func RescaledPrice(price, insurance float64) float64 {
	return (price-insurance)*(1.0+Increment) + insurance
}
