package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/api/dto"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/service/monitor"
	"github.com/uniride/carpool/internal/service/search"
	"github.com/uniride/carpool/internal/service/tripsvc"
	apperrors "github.com/uniride/carpool/pkg/errors"
	"github.com/uniride/carpool/pkg/logger"
	"github.com/uniride/carpool/pkg/monitoring"
	"github.com/uniride/carpool/pkg/websocket"
)

// Handlers holds all handler dependencies
type Handlers struct {
	Trips   *tripsvc.Service
	Matcher *search.Matcher
	Monitor *monitor.Scheduler
	Users   collab.UserAccountLookup
	Hub     *websocket.Hub
	NR      *monitoring.NewRelicApp
	Logger  *logger.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(trips *tripsvc.Service, matcher *search.Matcher, mon *monitor.Scheduler, users collab.UserAccountLookup, hub *websocket.Hub, nrApp *monitoring.NewRelicApp, log *logger.Logger) *Handlers {
	return &Handlers{
		Trips:   trips,
		Matcher: matcher,
		Monitor: mon,
		Users:   users,
		Hub:     hub,
		NR:      nrApp,
		Logger:  log,
	}
}

// userID reads the authenticated user from the X-User-ID header set by the
// gateway. A missing or malformed id aborts the request.
func (h *Handlers) userID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Code:    "UNAUTHENTICATED",
			Message: "Missing X-User-ID header",
		})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
			Code:    "UNAUTHENTICATED",
			Message: "Malformed X-User-ID header",
		})
		return uuid.Nil, false
	}
	return id, true
}

// pathID parses a uuid path parameter
func (h *Handlers) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Malformed " + name + " path parameter",
		})
		return uuid.Nil, false
	}
	return id, true
}

// respondError translates service errors to the API error envelope
func (h *Handlers) respondError(c *gin.Context, err error) {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		c.JSON(appErr.Status, dto.ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}
	h.Logger.Error("Unhandled error", logger.Err(err))
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
	})
}
