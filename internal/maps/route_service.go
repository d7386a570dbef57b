package maps

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"haul/internal/types"
)

// RouteDistancer is the road-network distance lookup the pricing and
// combination code depends on.
type RouteDistancer interface {
	RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error)
}

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

const defaultTimeout = 8 * time.Second

// RouteService handles interactions with the Google Maps Directions API.
type RouteService struct {
	client  directionsClient
	timeout time.Duration
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, timeout time.Duration) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newRouteService(client, timeout), nil
}

func newRouteService(client directionsClient, timeout time.Duration) *RouteService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RouteService{client: client, timeout: timeout}
}

// RouteDistanceKm returns the driving distance through stops in the given order.
// The first stop is the origin, the last the destination and everything in
// between an ordered waypoint. All leg distances are summed.
func (s *RouteService) RouteDistanceKm(ctx context.Context, stops []types.Point) (float64, error) {
	if len(stops) < 2 {
		return 0, fmt.Errorf("%w: route needs at least 2 stops, got %d", types.ErrValidation, len(stops))
	}
	for _, p := range stops {
		if err := p.Validate(); err != nil {
			return 0, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r := &maps.DirectionsRequest{
		Origin:      latLng(stops[0]),
		Destination: latLng(stops[len(stops)-1]),
		Mode:        maps.TravelModeDriving,
	}
	for _, p := range stops[1 : len(stops)-1] {
		r.Waypoints = append(r.Waypoints, latLng(p))
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, fmt.Errorf("%w: directions: %w", types.ErrExternalService, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, fmt.Errorf("%w: no route found", types.ErrExternalService)
	}

	meters := 0
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
	}
	return float64(meters) / 1000.0, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}

// routeKey identifies an exact stop sequence; order matters.
func routeKey(stops []types.Point) string {
	parts := make([]string, len(stops))
	for i, p := range stops {
		parts[i] = p.String()
	}
	return strings.Join(parts, ";")
}
