// README: Combination handlers: list feasible partners and merge two shipments.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"haul/internal/modules/booking"
	"haul/internal/modules/combine"
	"haul/internal/types"
)

type CombineHandler struct {
	booking *booking.Service
}

func NewCombineHandler(svc *booking.Service) *CombineHandler {
	return &CombineHandler{booking: svc}
}

type candidateResponse struct {
	CandidateID string              `json:"candidate_id"`
	Order       string              `json:"order"`
	MainKm      float64             `json:"main_km"`
	CombinedKm  float64             `json:"combined_km"`
	ExtraKm     float64             `json:"extra_km"`
	Stops       []routeStopResponse `json:"stops"`
}

func (h *CombineHandler) Candidates(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	evs, err := h.booking.Candidates(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := lo.Map(evs, func(ev combine.Evaluation, _ int) candidateResponse {
		return candidateResponse{
			CandidateID: string(ev.CandidateID),
			Order:       string(ev.Order),
			MainKm:      ev.MainKm,
			CombinedKm:  ev.CombinedKm,
			ExtraKm:     ev.ExtraKm,
			Stops:       toRouteStops(ev.Stops),
		}
	})
	writeJSON(c, http.StatusOK, map[string]any{"candidates": out})
}

type combineReq struct {
	CandidateID string `json:"candidate_id"`
}

func (h *CombineHandler) Combine(c *gin.Context) {
	id, ok := shipmentIDParam(c)
	if !ok {
		return
	}
	var req combineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.CandidateID) {
		writeError(c, http.StatusBadRequest, "invalid candidate_id")
		return
	}
	sh, err := h.booking.Combine(c.Request.Context(), booking.CombineCommand{
		MainID:      id,
		CandidateID: types.ID(req.CandidateID),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, toShipmentResponse(sh))
}
