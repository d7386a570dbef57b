// README: Pricing factor tables, request and quote definitions.
package pricing

import (
	"strings"
	"time"

	"haul/internal/types"
)

type EstimateRequest struct {
	// ShipmentID is excluded from the demand count when set.
	ShipmentID            types.ID
	Pickup                types.Point
	Dropoff               types.Point
	VehicleClass          string
	Material              string
	QuantityTonnes        float64
	ExpiresAt             time.Time
	InsuranceRequested    bool
	RefrigerationRequired bool
	Fragile               bool
}

// Factors is the breakdown that produced a price.
type Factors struct {
	BaseRate      float64 `json:"base_rate"`
	Material      float64 `json:"material"`
	Urgency       float64 `json:"urgency"`
	Demand        float64 `json:"demand"`
	Refrigeration float64 `json:"refrigeration"`
	Fragile       float64 `json:"fragile"`
	Commission    float64 `json:"commission"`
	Insurance     float64 `json:"insurance"`
}

// Quote is never rounded; rounding belongs to presentation.
type Quote struct {
	Price      float64
	DistanceKm float64
	Factors    Factors
}

const (
	defaultBaseRate       = 1.1
	defaultMaterialFactor = 1.0
	refrigerationFactor   = 1.2
	fragileFactor         = 1.3
)

var vehicleBaseRates = map[string]float64{
	"small":  1.0,
	"medium": 1.2,
	"large":  1.5,
	"tanker": 1.3,
}

var materialFactors = map[string]float64{
	"agricultural products": 1.0,
	"rubber products":       1.0,
	"wood":                  1.2,
	"machinery new or old":  1.2,
	"cement":                1.5,
	"steel":                 1.5,
}

// BaseRate returns the per tonne-km rate for a vehicle class. Unknown classes get 1.1.
func BaseRate(vehicleClass string) float64 {
	if r, ok := vehicleBaseRates[normalize(vehicleClass)]; ok {
		return r
	}
	return defaultBaseRate
}

// MaterialFactor returns the handling factor for a material. Unknown materials get 1.0.
func MaterialFactor(material string) float64 {
	if f, ok := materialFactors[normalize(material)]; ok {
		return f
	}
	return defaultMaterialFactor
}

// UrgencyFactor tiers are strictly-less-than: exactly 1h left is 1.3, not 1.5.
func UrgencyFactor(expiresAt, now time.Time) float64 {
	remaining := expiresAt.Sub(now)
	switch {
	case remaining <= 0:
		return 1.5
	case remaining < time.Hour:
		return 1.5
	case remaining < 6*time.Hour:
		return 1.3
	case remaining < 24*time.Hour:
		return 1.2
	default:
		return 1.0
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
