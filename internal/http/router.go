// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"haul/internal/http/handlers"
	"haul/internal/http/middleware"
	"haul/internal/modules/booking"
	"haul/internal/modules/loadboard"
)

type RouterDeps struct {
	Booking   *booking.Service
	LoadBoard *loadboard.Service
	Geocoder  handlers.ReverseGeocoder
	Logger    *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Logging(deps.Logger), middleware.Recovery(deps.Logger))

	shipments := handlers.NewShipmentHandler(deps.Booking)
	combos := handlers.NewCombineHandler(deps.Booking)
	stats := handlers.NewStatsHandler(deps.Booking)
	api := r.Group("/api")
	{
		api.GET("/shipments", shipments.List)
		api.POST("/shipments", shipments.Create)
		api.POST("/shipments/quote", shipments.Quote)
		api.GET("/shipments/:id", shipments.Get)
		api.POST("/shipments/:id/assign", shipments.Assign)
		api.POST("/shipments/:id/cancel", shipments.Cancel)
		api.POST("/shipments/:id/complete", shipments.Complete)
		api.GET("/shipments/:id/combinations", combos.Candidates)
		api.POST("/shipments/:id/combine", combos.Combine)
		api.GET("/stats/trips", stats.Trips)

		loads := handlers.NewLoadHandler(deps.LoadBoard, deps.Geocoder)
		api.GET("/loads/nearby", loads.Nearby)
		api.GET("/geocode/reverse", loads.ReverseGeocode)
	}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}
