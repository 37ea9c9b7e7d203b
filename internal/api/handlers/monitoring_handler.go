package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunMonitoringPass handles GET /v1/trips/monitoring/run: an on-demand departure
// monitoring pass, useful for operations and tests. The periodic scheduler
// runs the same pass; both are idempotent against each other.
func (h *Handlers) RunMonitoringPass(c *gin.Context) {
	summary := h.Monitor.RunPass(c.Request.Context())
	c.JSON(http.StatusOK, summary)
}
