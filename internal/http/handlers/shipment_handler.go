// README: Shipper handlers for quote, create, get, listings and the lifecycle transitions.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"haul/internal/modules/booking"
	"haul/internal/modules/pricing"
	"haul/internal/modules/shipment"
	"haul/internal/types"
)

type ShipmentHandler struct {
	booking *booking.Service
}

func NewShipmentHandler(svc *booking.Service) *ShipmentHandler {
	return &ShipmentHandler{booking: svc}
}

type shipmentReq struct {
	ShipperID             string       `json:"shipper_id"`
	CompanyName           string       `json:"company_name"`
	Pickup                *types.Point `json:"pickup"`
	Dropoff               *types.Point `json:"dropoff"`
	Material              string       `json:"material"`
	QuantityTonnes        float64      `json:"quantity_tonnes"`
	Fragile               bool         `json:"fragile"`
	RefrigerationRequired bool         `json:"refrigeration_required"`
	InsuranceRequested    bool         `json:"insurance_requested"`
	VehicleClass          string       `json:"vehicle_class"`
	ExpiresAt             time.Time    `json:"expires_at"`
}

func (r shipmentReq) command() booking.CreateCommand {
	return booking.CreateCommand{
		ShipperID:             types.ID(r.ShipperID),
		CompanyName:           r.CompanyName,
		Pickup:                *r.Pickup,
		Dropoff:               *r.Dropoff,
		Material:              r.Material,
		QuantityTonnes:        r.QuantityTonnes,
		Fragile:               r.Fragile,
		RefrigerationRequired: r.RefrigerationRequired,
		InsuranceRequested:    r.InsuranceRequested,
		VehicleClass:          r.VehicleClass,
		ExpiresAt:             r.ExpiresAt,
	}
}

func bindShipmentReq(c *gin.Context) (shipmentReq, bool) {
	var req shipmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if req.Pickup == nil || req.Dropoff == nil {
		writeError(c, http.StatusBadRequest, "pickup and dropoff are required")
		return req, false
	}
	return req, true
}

type quoteResponse struct {
	Price      float64         `json:"price"`
	DistanceKm float64         `json:"distance_km"`
	Factors    pricing.Factors `json:"factors"`
}

func (h *ShipmentHandler) Quote(c *gin.Context) {
	req, ok := bindShipmentReq(c)
	if !ok {
		return
	}
	q, err := h.booking.Quote(c.Request.Context(), req.command())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quoteResponse{Price: money(q.Price), DistanceKm: q.DistanceKm, Factors: q.Factors})
}

func (h *ShipmentHandler) Create(c *gin.Context) {
	req, ok := bindShipmentReq(c)
	if !ok {
		return
	}
	if req.ShipperID == "" {
		writeError(c, http.StatusBadRequest, "missing shipper_id")
		return
	}
	sh, err := h.booking.Create(c.Request.Context(), req.command())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, toShipmentResponse(sh))
}

func (h *ShipmentHandler) Get(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	sh, err := h.booking.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toShipmentResponse(sh))
}

type listResponse struct {
	Shipments []shipmentResponse `json:"shipments"`
}

// List serves a shipper's bookings (?shipper_id=) and the all-bookings view,
// optionally narrowed by ?status=.
func (h *ShipmentHandler) List(c *gin.Context) {
	filter := shipment.ListFilter{
		ShipperID: types.ID(c.Query("shipper_id")),
		Status:    shipment.Status(c.Query("status")),
	}
	list, err := h.booking.List(c.Request.Context(), filter)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, listResponse{
		Shipments: lo.Map(list, func(s *shipment.Shipment, _ int) shipmentResponse { return toShipmentResponse(s) }),
	})
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *ShipmentHandler) Assign(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "missing driver_id")
		return
	}
	sh, err := h.booking.Assign(c.Request.Context(), booking.AssignCommand{
		ShipmentID: id,
		DriverID:   types.ID(req.DriverID),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toShipmentResponse(sh))
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *ShipmentHandler) Cancel(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	// body is optional
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "shipper_cancel"
	}
	sh, err := h.booking.Cancel(c.Request.Context(), booking.CancelCommand{ShipmentID: id, Reason: req.Reason})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toShipmentResponse(sh))
}

func (h *ShipmentHandler) Complete(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	sh, err := h.booking.Complete(c.Request.Context(), booking.CompleteCommand{ShipmentID: id})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toShipmentResponse(sh))
}
