package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"haul/internal/modules/booking"
)

type StatsHandler struct {
	booking *booking.Service
}

func NewStatsHandler(svc *booking.Service) *StatsHandler {
	return &StatsHandler{booking: svc}
}

type driverStatsResponse struct {
	DriverID       string  `json:"driver_id"`
	TripsCompleted int     `json:"trips_completed"`
	TotalEarnings  float64 `json:"total_earnings"`
}

type tripStatsResponse struct {
	TotalTrips int `json:"total_trips"`
	// seconds from booking to completion
	AverageTripSeconds float64               `json:"average_trip_seconds"`
	DriverPerformance  []driverStatsResponse `json:"driver_performance"`
}

func (h *StatsHandler) Trips(c *gin.Context) {
	stats, err := h.booking.TripStats(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, tripStatsResponse{
		TotalTrips:         stats.CompletedTrips,
		AverageTripSeconds: stats.AverageTripTime.Seconds(),
		DriverPerformance: lo.Map(stats.Drivers, func(d booking.DriverStats, _ int) driverStatsResponse {
			return driverStatsResponse{
				DriverID:       string(d.DriverID),
				TripsCompleted: d.TripsCompleted,
				TotalEarnings:  money(d.TotalEarnings),
			}
		}),
	})
}
