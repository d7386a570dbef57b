package combine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"haul/internal/modules/shipment"
	"haul/internal/types"
)

// fakeRoutes answers by exact stop sequence, so a reordered route is a different lookup.
type fakeRoutes struct {
	mu    sync.Mutex
	km    map[string]float64
	err   error
	calls int
}

func key(points ...types.Point) string {
	parts := make([]string, len(points))
	for i, p := range points {
		parts[i] = p.String()
	}
	return strings.Join(parts, "|")
}

func (f *fakeRoutes) RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	km, ok := f.km[key(stops...)]
	if !ok {
		return 0, fmt.Errorf("%w: no fixture for %s", types.ErrExternalService, key(stops...))
	}
	return km, nil
}

var (
	mainShipment = &shipment.Shipment{
		ID:      "main",
		Pickup:  types.Point{Lat: 13.70, Lng: 100.50},
		Dropoff: types.Point{Lat: 14.40, Lng: 100.60},
		Status:  shipment.StatusPending,
	}
	candShipment = &shipment.Shipment{
		ID:      "cand",
		Pickup:  types.Point{Lat: 13.72, Lng: 100.52},
		Dropoff: types.Point{Lat: 14.30, Lng: 100.58},
		Status:  shipment.StatusPending,
	}
)

func routesFor(main, cand *shipment.Shipment, mainKm, nested, sequential, interleaved float64) *fakeRoutes {
	return &fakeRoutes{km: map[string]float64{
		key(main.Pickup, main.Dropoff):                             mainKm,
		key(main.Pickup, cand.Pickup, cand.Dropoff, main.Dropoff): nested,
		key(main.Pickup, main.Dropoff, cand.Pickup, cand.Dropoff): sequential,
		key(main.Pickup, cand.Pickup, main.Dropoff, cand.Dropoff): interleaved,
	}}
}

func TestEvaluate_NestedFeasible(t *testing.T) {
	routes := routesFor(mainShipment, candShipment, 80, 95, 0, 0)
	planner := NewPlanner(routes, StrategyNested)

	ev, err := planner.Evaluate(context.Background(), mainShipment, candShipment, 50)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !ev.Feasible || ev.ExtraKm != 15 || ev.MainKm != 80 || ev.CombinedKm != 95 || ev.Order != OrderNested {
		t.Errorf("evaluation = %+v", ev)
	}
	want := []struct {
		typ shipment.StopType
		id  types.ID
	}{{shipment.StopPickup, "main"}, {shipment.StopPickup, "cand"}, {shipment.StopDropoff, "cand"}, {shipment.StopDropoff, "main"}}
	for i, w := range want {
		if ev.Stops[i].StopType != w.typ || ev.Stops[i].ShipmentID != w.id || ev.Stops[i].Order != i {
			t.Errorf("stop %d = %+v", i, ev.Stops[i])
		}
	}
	if routes.calls != 2 {
		t.Errorf("nested strategy should make 2 lookups, made %d", routes.calls)
	}
}

func TestEvaluate_BudgetIsInclusive(t *testing.T) {
	tests := []struct {
		name     string
		combined float64
		want     bool
	}{
		{"below budget", 129.9, true},
		{"exactly at budget", 130, true},
		{"just above budget", 130.001, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner := NewPlanner(routesFor(mainShipment, candShipment, 80, tt.combined, 0, 0), StrategyNested)
			ev, err := planner.Evaluate(context.Background(), mainShipment, candShipment, 50)
			if err != nil {
				t.Fatal(err)
			}
			if ev.Feasible != tt.want {
				t.Errorf("Feasible = %v, want %v (extra %v)", ev.Feasible, tt.want, ev.ExtraKm)
			}
		})
	}
}

func TestEvaluate_AllOrdersPicksSmallestDetour(t *testing.T) {
	planner := NewPlanner(routesFor(mainShipment, candShipment, 80, 140, 160, 120), StrategyAll)
	ev, err := planner.Evaluate(context.Background(), mainShipment, candShipment, 50)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Order != OrderInterleaved || ev.ExtraKm != 40 || !ev.Feasible {
		t.Errorf("evaluation = %+v", ev)
	}
	if ev.Stops[2].StopType != shipment.StopDropoff || ev.Stops[2].ShipmentID != "main" {
		t.Errorf("interleaved stops = %+v", ev.Stops)
	}
}

func TestEvaluate_AllOrdersTieKeepsNested(t *testing.T) {
	planner := NewPlanner(routesFor(mainShipment, candShipment, 80, 100, 100, 100), StrategyAll)
	ev, err := planner.Evaluate(context.Background(), mainShipment, candShipment, 50)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Order != OrderNested {
		t.Errorf("Order = %s, want nested on ties", ev.Order)
	}
}

func TestEvaluate_Rejects(t *testing.T) {
	assigned := *candShipment
	assigned.Status = shipment.StatusAssigned

	tests := []struct {
		name    string
		main    *shipment.Shipment
		cand    *shipment.Shipment
		budget  float64
		wantErr error
	}{
		{"candidate not pending", mainShipment, &assigned, 50, types.ErrInvalidState},
		{"main not pending", &assigned, mainShipment, 50, types.ErrInvalidState},
		{"same shipment", mainShipment, mainShipment, 50, types.ErrValidation},
		{"negative budget", mainShipment, candShipment, -1, types.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := routesFor(mainShipment, candShipment, 80, 95, 0, 0)
			_, err := NewPlanner(routes, StrategyNested).Evaluate(context.Background(), tt.main, tt.cand, tt.budget)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if routes.calls != 0 {
				t.Error("rejected pairs must not hit the distance provider")
			}
		})
	}
}

func TestEvaluate_AdapterErrorAborts(t *testing.T) {
	routes := &fakeRoutes{err: types.ErrExternalService}
	_, err := NewPlanner(routes, StrategyNested).Evaluate(context.Background(), mainShipment, candShipment, 50)
	if !errors.Is(err, types.ErrExternalService) {
		t.Errorf("error = %v, want ErrExternalService", err)
	}

	// a missing combined distance must not be read as zero
	partial := &fakeRoutes{km: map[string]float64{key(mainShipment.Pickup, mainShipment.Dropoff): 80}}
	_, err = NewPlanner(partial, StrategyNested).Evaluate(context.Background(), mainShipment, candShipment, 50)
	if !errors.Is(err, types.ErrExternalService) {
		t.Errorf("error = %v, want ErrExternalService", err)
	}
}

func TestRank_SortsFeasibleByDetour(t *testing.T) {
	c2 := &shipment.Shipment{
		ID:      "c2",
		Pickup:  types.Point{Lat: 13.75, Lng: 100.53},
		Dropoff: types.Point{Lat: 14.35, Lng: 100.59},
		Status:  shipment.StatusPending,
	}
	c3 := &shipment.Shipment{
		ID:      "c3",
		Pickup:  types.Point{Lat: 12.00, Lng: 101.00},
		Dropoff: types.Point{Lat: 12.50, Lng: 101.20},
		Status:  shipment.StatusPending,
	}
	routes := routesFor(mainShipment, candShipment, 80, 110, 0, 0)
	routes.km[key(mainShipment.Pickup, c2.Pickup, c2.Dropoff, mainShipment.Dropoff)] = 90
	routes.km[key(mainShipment.Pickup, c3.Pickup, c3.Dropoff, mainShipment.Dropoff)] = 400

	planner := NewPlanner(routes, StrategyNested)
	got, err := planner.Rank(context.Background(), mainShipment, []*shipment.Shipment{candShipment, c2, c3, mainShipment}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].CandidateID != "c2" || got[1].CandidateID != "cand" {
		t.Errorf("ranked = %+v", got)
	}
}

func TestRank_PropagatesErrors(t *testing.T) {
	routes := &fakeRoutes{err: types.ErrExternalService}
	_, err := NewPlanner(routes, StrategyNested).Rank(context.Background(), mainShipment, []*shipment.Shipment{candShipment}, 50)
	if !errors.Is(err, types.ErrExternalService) {
		t.Errorf("error = %v, want ErrExternalService", err)
	}
}

func TestRank_Empty(t *testing.T) {
	got, err := NewPlanner(&fakeRoutes{}, StrategyNested).Rank(context.Background(), mainShipment, nil, 50)
	if err != nil || len(got) != 0 {
		t.Errorf("Rank() = %v, %v", got, err)
	}
}
