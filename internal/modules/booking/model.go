// README: Booking commands and the errors the booking flow adds on top of the shared kinds.
package booking

import (
	"errors"
	"time"

	"haul/internal/types"
)

// ErrNotFeasible means the combined route would exceed the detour budget.
var ErrNotFeasible = errors.New("combination not feasible")

type CreateCommand struct {
	ShipperID             types.ID
	CompanyName           string
	Pickup                types.Point
	Dropoff               types.Point
	Material              string
	QuantityTonnes        float64
	Fragile               bool
	RefrigerationRequired bool
	InsuranceRequested    bool
	VehicleClass          string
	ExpiresAt             time.Time
}

type AssignCommand struct {
	ShipmentID types.ID
	DriverID   types.ID
}

type CancelCommand struct {
	ShipmentID types.ID
	Reason     string
}

type CompleteCommand struct {
	ShipmentID types.ID
}

type CombineCommand struct {
	MainID      types.ID
	CandidateID types.ID
}
