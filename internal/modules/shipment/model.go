// README: Shipment aggregate, status definitions and the combined-route rewrite.
package shipment

import (
	"time"

	"github.com/google/uuid"

	"haul/internal/types"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type StopType string

const (
	StopPickup  StopType = "pickup"
	StopDropoff StopType = "dropoff"
)

// RouteStop is one stop of a combined route. Order is 0-based.
type RouteStop struct {
	Location   types.Point `json:"location"`
	StopType   StopType    `json:"stop_type"`
	Order      int         `json:"order"`
	ShipmentID types.ID    `json:"shipment_id"`
}

type Shipment struct {
	ID          types.ID
	ShipperID   types.ID
	CompanyName string
	Pickup      types.Point
	Dropoff     types.Point

	Material              string
	QuantityTonnes        float64
	Fragile               bool
	RefrigerationRequired bool
	InsuranceRequested    bool
	VehicleClass          string

	CreatedAt   time.Time
	ExpiresAt   time.Time
	CompletedAt *time.Time

	DistanceKm float64
	Price      float64
	Status     Status
	Version    int
	DriverID   *types.ID

	IsCombinedRoute    bool
	CombinedBookingIDs []types.ID
	RouteOrder         []RouteStop
	CombinedPrice      float64
	CombinedRouteKm    float64
}

func NewID() types.ID {
	return types.ID(uuid.NewString())
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	c := *s
	if s.DriverID != nil {
		d := *s.DriverID
		c.DriverID = &d
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		c.CompletedAt = &at
	}
	if s.CombinedBookingIDs != nil {
		c.CombinedBookingIDs = append([]types.ID(nil), s.CombinedBookingIDs...)
	}
	if s.RouteOrder != nil {
		c.RouteOrder = append([]RouteStop(nil), s.RouteOrder...)
	}
	return &c
}

// AllowedTransitions represents the shipment state flow as code.
// A merge moves the survivor straight from Pending to Assigned.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusCancelled, StatusExpired},
	StatusAssigned: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
