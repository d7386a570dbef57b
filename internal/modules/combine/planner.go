// README: Route combination planner decides whether two pending shipments can share a truck.
package combine

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"haul/internal/modules/shipment"
	"haul/internal/types"
)

type RouteDistancer interface {
	RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error)
}

// Order names a stop sequence for main (1) and candidate (2).
type Order string

const (
	// OrderNested picks up both, drops the candidate first: p1, p2, d2, d1.
	OrderNested Order = "nested"
	// OrderSequential finishes main before starting the candidate: p1, d1, p2, d2.
	OrderSequential Order = "sequential"
	// OrderInterleaved picks up both and drops main first: p1, p2, d1, d2.
	OrderInterleaved Order = "interleaved"
)

type Strategy string

const (
	StrategyNested Strategy = "nested"
	StrategyAll    Strategy = "all"
)

const rankConcurrency = 4

// Evaluation is the outcome of checking one main/candidate pair.
type Evaluation struct {
	CandidateID types.ID
	Feasible    bool
	Order       Order
	MainKm      float64
	CombinedKm  float64
	ExtraKm     float64
	Stops       []shipment.RouteStop
}

func (e Evaluation) Plan() shipment.RoutePlan {
	return shipment.RoutePlan{Stops: e.Stops, CombinedKm: e.CombinedKm}
}

type Planner struct {
	routes   RouteDistancer
	strategy Strategy
}

func NewPlanner(routes RouteDistancer, strategy Strategy) *Planner {
	if strategy == "" {
		strategy = StrategyNested
	}
	return &Planner{routes: routes, strategy: strategy}
}

// WithRoutes returns a copy of the planner that looks distances up through routes.
func (p *Planner) WithRoutes(routes RouteDistancer) *Planner {
	c := *p
	c.routes = routes
	return &c
}

// Evaluate computes the detour of serving candidate inside main's trip. The pair is
// feasible when the extra distance is at most maxExtraKm. Distance lookup failures
// abort the evaluation.
func (p *Planner) Evaluate(ctx context.Context, main, candidate *shipment.Shipment, maxExtraKm float64) (Evaluation, error) {
	if main == nil || candidate == nil {
		return Evaluation{}, fmt.Errorf("%w: both shipments are required", types.ErrValidation)
	}
	if main.ID == candidate.ID {
		return Evaluation{}, fmt.Errorf("%w: cannot combine shipment %s with itself", types.ErrValidation, main.ID)
	}
	if main.Status != shipment.StatusPending || candidate.Status != shipment.StatusPending {
		return Evaluation{}, fmt.Errorf("%w: combine requires pending shipments, got %s and %s",
			types.ErrInvalidState, main.Status, candidate.Status)
	}
	if maxExtraKm < 0 {
		return Evaluation{}, fmt.Errorf("%w: detour budget must not be negative", types.ErrValidation)
	}

	mainKm, err := p.routes.RouteDistanceKm(ctx, []types.Point{main.Pickup, main.Dropoff})
	if err != nil {
		return Evaluation{}, fmt.Errorf("main route distance: %w", err)
	}

	var best Evaluation
	for i, order := range p.orders() {
		stops := Stops(order, main, candidate)
		combinedKm, err := p.routes.RouteDistanceKm(ctx, lo.Map(stops, func(s shipment.RouteStop, _ int) types.Point {
			return s.Location
		}))
		if err != nil {
			return Evaluation{}, fmt.Errorf("%s route distance: %w", order, err)
		}
		ev := Evaluation{
			CandidateID: candidate.ID,
			Order:       order,
			MainKm:      mainKm,
			CombinedKm:  combinedKm,
			ExtraKm:     combinedKm - mainKm,
			Stops:       stops,
		}
		ev.Feasible = ev.ExtraKm <= maxExtraKm
		// ties keep the earlier order
		if i == 0 || ev.ExtraKm < best.ExtraKm {
			best = ev
		}
	}
	return best, nil
}

func (p *Planner) orders() []Order {
	if p.strategy == StrategyAll {
		return []Order{OrderNested, OrderSequential, OrderInterleaved}
	}
	return []Order{OrderNested}
}

// Rank evaluates candidates concurrently and returns the feasible ones, smallest detour first.
// It does not merge anything.
func (p *Planner) Rank(ctx context.Context, main *shipment.Shipment, candidates []*shipment.Shipment, maxExtraKm float64) ([]Evaluation, error) {
	candidates = lo.Filter(candidates, func(c *shipment.Shipment, _ int) bool {
		return c.ID != main.ID && c.Status == shipment.StatusPending
	})

	results := make([]Evaluation, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rankConcurrency)
	for i, c := range candidates {
		i, c := i, c // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			ev, err := p.Evaluate(gctx, main, c, maxExtraKm)
			if err != nil {
				return fmt.Errorf("evaluate %s: %w", c.ID, err)
			}
			results[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	feasible := lo.Filter(results, func(ev Evaluation, _ int) bool { return ev.Feasible })
	sort.SliceStable(feasible, func(i, j int) bool { return feasible[i].ExtraKm < feasible[j].ExtraKm })
	return feasible, nil
}

// Stops lays out the four stops of order with 0-based positions.
func Stops(order Order, main, candidate *shipment.Shipment) []shipment.RouteStop {
	p1 := shipment.RouteStop{Location: main.Pickup, StopType: shipment.StopPickup, ShipmentID: main.ID}
	d1 := shipment.RouteStop{Location: main.Dropoff, StopType: shipment.StopDropoff, ShipmentID: main.ID}
	p2 := shipment.RouteStop{Location: candidate.Pickup, StopType: shipment.StopPickup, ShipmentID: candidate.ID}
	d2 := shipment.RouteStop{Location: candidate.Dropoff, StopType: shipment.StopDropoff, ShipmentID: candidate.ID}

	var stops []shipment.RouteStop
	switch order {
	case OrderSequential:
		stops = []shipment.RouteStop{p1, d1, p2, d2}
	case OrderInterleaved:
		stops = []shipment.RouteStop{p1, p2, d1, d2}
	default:
		stops = []shipment.RouteStop{p1, p2, d2, d1}
	}
	for i := range stops {
		stops[i].Order = i
	}
	return stops
}
