package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uniride/carpool/internal/api/dto"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/search"
	"github.com/uniride/carpool/pkg/logger"
)

// SearchTrips handles GET /v1/trips/search: active trips matching both
// endpoints of the requester's route within a date window
func (h *Handlers) SearchTrips(c *gin.Context) {
	requesterID, ok := h.userID(c)
	if !ok {
		return
	}

	var req dto.SearchTripsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid search parameters",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	from, to, err := searchWindow(req.Date, req.DateFrom, req.DateTo)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: err.Error(),
		})
		return
	}

	// The gender restriction needs the requester's account
	gender := collab.GenderUnspecified
	if account, err := h.Users.Account(c.Request.Context(), requesterID); err == nil {
		gender = account.Gender
	}

	start := time.Now()
	matches, err := h.Matcher.SearchByRoute(c.Request.Context(), search.RouteQuery{
		Origin:          trip.GeoPoint{Lat: req.OriginLat, Lng: req.OriginLng},
		Destination:     trip.GeoPoint{Lat: req.DestinationLat, Lng: req.DestinationLng},
		From:            from,
		To:              to,
		SeatsNeeded:     req.Seats,
		WomenOnly:       req.WomenOnly,
		RadiusKm:        req.RadiusKm,
		RequesterID:     requesterID,
		RequesterGender: gender,
		ExcludeOwn:      req.ExcludeOwn,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.NR != nil {
		h.NR.RecordSearchLatency(float64(time.Since(start).Milliseconds()))
	}
	h.Logger.Info("Route search served",
		logger.String("requester_id", requesterID.String()),
		logger.Int("matches", len(matches)),
	)
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

// searchWindow resolves the search date window: a single day expands to its
// UTC range, otherwise both range bounds must be RFC 3339 timestamps.
func searchWindow(date, dateFrom, dateTo string) (time.Time, time.Time, error) {
	if date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("date must be YYYY-MM-DD")
		}
		return day, day.Add(24 * time.Hour), nil
	}
	if dateFrom == "" || dateTo == "" {
		return time.Time{}, time.Time{}, errors.New("either date or both date_from and date_to are required")
	}
	from, err := time.Parse(time.RFC3339, dateFrom)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("date_from must be RFC 3339")
	}
	to, err := time.Parse(time.RFC3339, dateTo)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("date_to must be RFC 3339")
	}
	return from, to, nil
}

// RadarTrips handles POST /v1/trips/radar: active trips departing near a point
func (h *Handlers) RadarTrips(c *gin.Context) {
	requesterID, ok := h.userID(c)
	if !ok {
		return
	}

	var req dto.RadarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Invalid radar parameters",
			Details: map[string]interface{}{"error": err.Error()},
		})
		return
	}

	var date *time.Time
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "date must be YYYY-MM-DD",
			})
			return
		}
		date = &d
	}

	matches, err := h.Matcher.SearchByPoint(c.Request.Context(), search.RadarQuery{
		Point:        trip.GeoPoint{Lat: req.Lat, Lng: req.Lng},
		RadiusMeters: req.RadiusKm * 1000,
		Date:         date,
		RequesterID:  requesterID,
		ExcludeOwn:   req.ExcludeOwn,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}
