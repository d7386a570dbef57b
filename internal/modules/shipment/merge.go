package shipment

import (
	"fmt"

	"haul/internal/types"
)

// CombinedDiscount is applied to the sum of both prices when two loads share a truck.
const CombinedDiscount = 0.9

// RoutePlan is the stop order chosen for a combined route and its road distance.
type RoutePlan struct {
	Stops      []RouteStop
	CombinedKm float64
}

// Merge rewrites main into the survivor of a combination with candidate.
// Neither input is modified. The caller persists the result and removes candidate.
func Merge(main, candidate *Shipment, plan RoutePlan) (*Shipment, error) {
	if main == nil || candidate == nil {
		return nil, fmt.Errorf("%w: both shipments are required", types.ErrValidation)
	}
	if main.ID == candidate.ID {
		return nil, fmt.Errorf("%w: cannot combine shipment %s with itself", types.ErrValidation, main.ID)
	}
	if main.Status != StatusPending || candidate.Status != StatusPending {
		return nil, fmt.Errorf("%w: combine requires pending shipments, got %s and %s",
			types.ErrInvalidState, main.Status, candidate.Status)
	}
	if len(plan.Stops) != 4 {
		return nil, fmt.Errorf("%w: combined route needs 4 stops, got %d", types.ErrValidation, len(plan.Stops))
	}

	out := main.Clone()
	out.IsCombinedRoute = true
	out.CombinedBookingIDs = []types.ID{main.ID, candidate.ID}
	out.RouteOrder = make([]RouteStop, len(plan.Stops))
	for i, stop := range plan.Stops {
		stop.Order = i
		out.RouteOrder[i] = stop
	}
	out.CombinedPrice = (main.Price + candidate.Price) * CombinedDiscount
	out.Price = out.CombinedPrice
	// DistanceKm stays additive; the road distance of the shared route lives in CombinedRouteKm.
	out.DistanceKm = main.DistanceKm + candidate.DistanceKm
	out.CombinedRouteKm = plan.CombinedKm
	out.CompanyName = main.CompanyName + " & " + candidate.CompanyName
	out.Status = StatusAssigned
	return out, nil
}
