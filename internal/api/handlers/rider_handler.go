package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uniride/carpool/internal/api/dto"
)

// JoinTrip handles POST /v1/trips/:id/join
func (h *Handlers) JoinTrip(c *gin.Context) {
	riderID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req dto.JoinTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request payload",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	t, err := h.Trips.Join(c.Request.Context(), riderID, tripID, req.Seats, "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// JoinTripWithPayment handles POST /v1/trips/:id/join-with-payment
func (h *Handlers) JoinTripWithPayment(c *gin.Context) {
	riderID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	var req dto.JoinTripWithPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid request payload",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	t, err := h.Trips.Join(c.Request.Context(), riderID, tripID, req.Seats, req.PaymentRef)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// ConfirmRider handles PUT /v1/trips/:id/confirm/:riderId
func (h *Handlers) ConfirmRider(c *gin.Context) {
	driverID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	riderID, ok := h.pathID(c, "riderId")
	if !ok {
		return
	}

	t, err := h.Trips.ConfirmRider(c.Request.Context(), driverID, tripID, riderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// RejectRider handles PUT /v1/trips/:id/reject/:riderId
func (h *Handlers) RejectRider(c *gin.Context) {
	driverID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	riderID, ok := h.pathID(c, "riderId")
	if !ok {
		return
	}

	t, err := h.Trips.RejectRider(c.Request.Context(), driverID, tripID, riderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// RemoveRider handles DELETE /v1/trips/:id/riders/:riderId
func (h *Handlers) RemoveRider(c *gin.Context) {
	driverID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	riderID, ok := h.pathID(c, "riderId")
	if !ok {
		return
	}

	t, err := h.Trips.RemoveRider(c.Request.Context(), driverID, tripID, riderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}

// AbandonTrip handles POST /v1/trips/:id/abandon
func (h *Handlers) AbandonTrip(c *gin.Context) {
	riderID, ok := h.userID(c)
	if !ok {
		return
	}
	tripID, ok := h.pathID(c, "id")
	if !ok {
		return
	}

	t, err := h.Trips.Abandon(c.Request.Context(), riderID, tripID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTripResponse(t))
}
