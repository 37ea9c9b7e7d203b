package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/api/dto"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/tripsvc"
	"github.com/uniride/carpool/pkg/logger"
)

// CreateTrip handles POST /v1/trips
func (h *Handlers) CreateTrip(c *gin.Context) {
	driverID, ok := h.userID(c)
	if !ok {
		return
	}

	var req dto.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request payload",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	vehicleID, err := uuid.Parse(req.VehicleID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Malformed vehicle_id",
		})
		return
	}

	created, err := h.Trips.Create(c.Request.Context(), driverID, tripsvc.CreateInput{
		VehicleID:     vehicleID,
		Origin:        tripsvc.EndpointInput{DisplayName: req.Origin.DisplayName, Lat: req.Origin.Lat, Lng: req.Origin.Lng},
		Destination:   tripsvc.EndpointInput{DisplayName: req.Destination.DisplayName, Lat: req.Destination.Lat, Lng: req.Destination.Lng},
		DepartureTime: req.DepartureTime,
		ReturnTime:    req.ReturnTime,
		RoundTrip:     req.RoundTrip,
		MaxSeats:      req.MaxSeats,
		WomenOnly:     req.WomenOnly,
		Price:         req.Price,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.NR != nil {
		h.NR.RecordTripPublished(req.RoundTrip, req.WomenOnly)
	}
	c.JSON(http.StatusCreated, gin.H{"trips": dto.NewTripResponses(created)})
}

// GetTrip handles GET /v1/trips/:id
func (h *Handlers) GetTrip(c *gin.Context) {
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	t, err := h.Trips.Get(c.Request.Context(), tripID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// ListMyTrips handles GET /v1/trips
func (h *Handlers) ListMyTrips(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	trips, err := h.Trips.ListByParticipant(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": dto.NewTripResponses(trips)})
}

// DeleteTrip handles DELETE /v1/trips/:id
func (h *Handlers) DeleteTrip(c *gin.Context) {
	driverID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	if err := h.Trips.Delete(c.Request.Context(), driverID, tripID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// stateFromRequest maps wire state names onto the domain states. The Spanish
// names are what the mobile clients send.
func stateFromRequest(raw string) (trip.State, bool) {
	switch raw {
	case "en_curso", "in_progress":
		return trip.StateInProgress, true
	case "completado", "completed":
		return trip.StateCompleted, true
	case "cancelado", "cancelled":
		return trip.StateCancelled, true
	}
	return "", false
}

// ChangeTripState handles PUT /v1/trips/:id/state
func (h *Handlers) ChangeTripState(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req dto.ChangeStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request payload",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	target, ok := stateFromRequest(req.State)
	if !ok {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Unknown target state: " + req.State,
		})
		return
	}

	t, err := h.Trips.ChangeState(c.Request.Context(), userID, tripID, target)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.NR != nil && t.State == trip.StateCompleted {
		h.NR.RecordTripCompleted(t.ID.String(), t.RouteKm, len(t.ConfirmedRiders()))
	}
	h.Logger.Info("Trip state changed",
		logger.String("trip_id", tripID.String()),
		logger.String("state", string(t.State)),
	)
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}
