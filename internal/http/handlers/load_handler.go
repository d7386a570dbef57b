// README: Driver load board and reverse geocoding handlers.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"haul/internal/modules/loadboard"
	"haul/internal/types"
)

type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

type LoadHandler struct {
	board    *loadboard.Service
	geocoder ReverseGeocoder
}

func NewLoadHandler(board *loadboard.Service, geocoder ReverseGeocoder) *LoadHandler {
	return &LoadHandler{board: board, geocoder: geocoder}
}

type loadResponse struct {
	Shipment   shipmentResponse `json:"shipment"`
	DistanceKm float64          `json:"distance_km"`
}

// Nearby serves GET /api/loads/nearby?lat=&lng=&radius_km=.
func (h *LoadHandler) Nearby(c *gin.Context) {
	p, ok := pointQuery(c)
	if !ok {
		return
	}
	var radius float64
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 {
			writeError(c, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = r
	}

	ctx := c.Request.Context()
	loads, err := h.board.Nearby(ctx, p, radius)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	resp := gin.H{
		"loads": lo.Map(loads, func(l loadboard.Load, _ int) loadResponse {
			return loadResponse{Shipment: toShipmentResponse(l.Shipment), DistanceKm: l.DistanceKm}
		}),
	}
	// the board-wide count is informational; a stale or missing one is just left out
	if n, fresh, err := h.board.PendingCount(ctx); err == nil && fresh {
		resp["pending_total"] = n
	}
	writeJSON(c, http.StatusOK, resp)
}

func (h *LoadHandler) ReverseGeocode(c *gin.Context) {
	p, ok := pointQuery(c)
	if !ok {
		return
	}
	addr, err := h.geocoder.ReverseGeocode(c.Request.Context(), p)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"address": addr, "location": p})
}

func pointQuery(c *gin.Context) (types.Point, bool) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return types.Point{}, false
	}
	p := types.Point{Lat: lat, Lng: lng}
	if err := p.Validate(); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return types.Point{}, false
	}
	return p, true
}
