package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"haul/internal/types"
)

type geocodeClient interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GeocodeService resolves coordinates to human readable addresses for display.
type GeocodeService struct {
	client  geocodeClient
	timeout time.Duration
}

func NewGeocodeService(apiKey string, timeout time.Duration) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newGeocodeService(client, timeout), nil
}

func newGeocodeService(client geocodeClient, timeout time.Duration) *GeocodeService {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GeocodeService{client: client, timeout: timeout}
}

// ReverseGeocode returns the first formatted address for p.
func (s *GeocodeService) ReverseGeocode(ctx context.Context, p types.Point) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results, err := s.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
	})
	if err != nil {
		return "", fmt.Errorf("%w: reverse geocode: %w", types.ErrExternalService, err)
	}
	if len(results) == 0 || results[0].FormattedAddress == "" {
		return "", fmt.Errorf("%w: no address for %s", types.ErrExternalService, p)
	}
	return results[0].FormattedAddress, nil
}
