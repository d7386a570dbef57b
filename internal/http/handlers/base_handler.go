// README: Base handler utilities (JSON helpers, error mapping, shared DTOs).
package handlers

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"haul/internal/modules/booking"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the UUIDs produced by shipment.NewID.
func isValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps the shared error kinds to status codes. Unknown errors
// are attached to the context for the logging middleware and hidden from clients.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, types.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, booking.ErrNotFeasible):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrExternalService):
		_ = c.Error(err)
		writeError(c, http.StatusBadGateway, "upstream service unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// shipmentIDParam reads :id and rejects anything that is not a shipment ID.
func shipmentIDParam(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid shipment id")
		return "", false
	}
	return types.ID(id), true
}

// money rounds for display only; stored prices keep full precision.
func money(v float64) float64 {
	return math.Round(v*100) / 100
}

type routeStopResponse struct {
	Order      int         `json:"order"`
	StopType   string      `json:"stop_type"`
	ShipmentID string      `json:"shipment_id"`
	Location   types.Point `json:"location"`
}

type shipmentResponse struct {
	ID                    string              `json:"id"`
	ShipperID             string              `json:"shipper_id"`
	CompanyName           string              `json:"company_name"`
	Pickup                types.Point         `json:"pickup"`
	Dropoff               types.Point         `json:"dropoff"`
	Material              string              `json:"material"`
	QuantityTonnes        float64             `json:"quantity_tonnes"`
	Fragile               bool                `json:"fragile"`
	RefrigerationRequired bool                `json:"refrigeration_required"`
	InsuranceRequested    bool                `json:"insurance_requested"`
	VehicleClass          string              `json:"vehicle_class"`
	CreatedAt             time.Time           `json:"created_at"`
	ExpiresAt             time.Time           `json:"expires_at"`
	CompletedAt           *time.Time          `json:"completed_at,omitempty"`
	DistanceKm            float64             `json:"distance_km"`
	Price                 float64             `json:"price"`
	Status                string              `json:"status"`
	DriverID              *string             `json:"driver_id,omitempty"`
	IsCombinedRoute       bool                `json:"is_combined_route"`
	CombinedBookingIDs    []string            `json:"combined_booking_ids,omitempty"`
	RouteOrder            []routeStopResponse `json:"route_order,omitempty"`
	CombinedPrice         float64             `json:"combined_price,omitempty"`
	CombinedRouteKm       float64             `json:"combined_route_km,omitempty"`
}

func toShipmentResponse(s *shipment.Shipment) shipmentResponse {
	out := shipmentResponse{
		ID:                    string(s.ID),
		ShipperID:             string(s.ShipperID),
		CompanyName:           s.CompanyName,
		Pickup:                s.Pickup,
		Dropoff:               s.Dropoff,
		Material:              s.Material,
		QuantityTonnes:        s.QuantityTonnes,
		Fragile:               s.Fragile,
		RefrigerationRequired: s.RefrigerationRequired,
		InsuranceRequested:    s.InsuranceRequested,
		VehicleClass:          s.VehicleClass,
		CreatedAt:             s.CreatedAt,
		ExpiresAt:             s.ExpiresAt,
		CompletedAt:           s.CompletedAt,
		DistanceKm:            s.DistanceKm,
		Price:                 money(s.Price),
		Status:                string(s.Status),
		IsCombinedRoute:       s.IsCombinedRoute,
		CombinedPrice:         money(s.CombinedPrice),
		CombinedRouteKm:       s.CombinedRouteKm,
	}
	if s.DriverID != nil {
		d := string(*s.DriverID)
		out.DriverID = &d
	}
	out.CombinedBookingIDs = lo.Map(s.CombinedBookingIDs, func(id types.ID, _ int) string { return string(id) })
	out.RouteOrder = toRouteStops(s.RouteOrder)
	return out
}

func toRouteStops(stops []shipment.RouteStop) []routeStopResponse {
	return lo.Map(stops, func(st shipment.RouteStop, _ int) routeStopResponse {
		return routeStopResponse{
			Order:      st.Order,
			StopType:   string(st.StopType),
			ShipmentID: string(st.ShipmentID),
			Location:   st.Location,
		}
	})
}
