package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/uniride/carpool/internal/api/handlers"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":      "healthy",
			"connections": h.Hub.GetActiveConnections(),
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// WebSocket connection
		v1.GET("/ws", h.HandleWebSocket)

		// Trip endpoints
		trips := v1.Group("/trips")
		{
			trips.POST("", h.CreateTrip)
			trips.GET("", h.ListMyTrips)
			trips.GET("/search", h.SearchTrips)
			trips.POST("/radar", h.RadarTrips)
			trips.GET("/:id", h.GetTrip)
			trips.DELETE("/:id", h.DeleteTrip)
			trips.PUT("/:id/state", h.ChangeTripState)

			// Rider flow
			trips.POST("/:id/join", h.JoinTrip)
			trips.POST("/:id/join-with-payment", h.JoinTripWithPayment)
			trips.PUT("/:id/confirm/:riderId", h.ConfirmRider)
			trips.PUT("/:id/reject/:riderId", h.RejectRider)
			trips.DELETE("/:id/riders/:riderId", h.RemoveRider)
			trips.POST("/:id/abandon", h.AbandonTrip)

			// Departure monitoring, on demand
			trips.GET("/monitoring/run", h.RunMonitoringPass)
		}
	}
}
