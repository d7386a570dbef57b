// README: Pricing engine multiplies the factor model over the road distance.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"haul/internal/config"
	"haul/internal/types"
)

type RouteDistancer interface {
	RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error)
}

// DemandGauge returns the demand factor around a pickup/dropoff pair.
// exclude names a shipment that must not count as its own neighbour.
type DemandGauge func(ctx context.Context, pickup, dropoff types.Point, radiusKm float64, exclude types.ID) (float64, error)

type Engine struct {
	routes RouteDistancer
	demand DemandGauge
	cfg    config.PricingConfig
	now    func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(routes RouteDistancer, cfg config.PricingConfig, opts ...Option) *Engine {
	e := &Engine{routes: routes, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithDemand returns a copy of the engine that uses gauge for the demand factor.
// Without a gauge the demand factor is 1.0.
func (e *Engine) WithDemand(gauge DemandGauge) *Engine {
	c := *e
	c.demand = gauge
	return &c
}

// WithRoutes returns a copy of the engine that looks distances up through routes.
func (e *Engine) WithRoutes(routes RouteDistancer) *Engine {
	c := *e
	c.routes = routes
	return &c
}

func (e *Engine) Estimate(ctx context.Context, req EstimateRequest) (Quote, error) {
	if err := validate(req); err != nil {
		return Quote{}, err
	}

	km, err := e.routes.RouteDistanceKm(ctx, []types.Point{req.Pickup, req.Dropoff})
	if err != nil {
		return Quote{}, fmt.Errorf("route distance: %w", err)
	}

	f := Factors{
		BaseRate:      BaseRate(req.VehicleClass),
		Material:      MaterialFactor(req.Material),
		Urgency:       UrgencyFactor(req.ExpiresAt, e.now()),
		Demand:        1.0,
		Refrigeration: 1.0,
		Fragile:       1.0,
		Commission:    e.cfg.Commission,
	}
	if f.Commission <= 0 {
		f.Commission = 1.0
	}
	if req.RefrigerationRequired {
		f.Refrigeration = refrigerationFactor
	}
	if req.Fragile {
		f.Fragile = fragileFactor
	}
	if req.InsuranceRequested {
		f.Insurance = e.cfg.InsuranceSurcharge
	}
	if e.demand != nil {
		d, err := e.demand(ctx, req.Pickup, req.Dropoff, e.cfg.DemandRadiusKm, req.ShipmentID)
		if err != nil {
			return Quote{}, fmt.Errorf("demand factor: %w", err)
		}
		f.Demand = d
	}

	price := f.BaseRate * req.QuantityTonnes * km *
		f.Material * f.Urgency * f.Demand * f.Refrigeration * f.Fragile * f.Commission
	price += f.Insurance

	return Quote{Price: price, DistanceKm: km, Factors: f}, nil
}

func validate(req EstimateRequest) error {
	if math.IsNaN(req.QuantityTonnes) || math.IsInf(req.QuantityTonnes, 0) || req.QuantityTonnes <= 0 {
		return fmt.Errorf("%w: quantity must be a positive number of tonnes", types.ErrValidation)
	}
	if normalize(req.Material) == "" {
		return fmt.Errorf("%w: material is required", types.ErrValidation)
	}
	if err := req.Pickup.Validate(); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if err := req.Dropoff.Validate(); err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}
	return nil
}
