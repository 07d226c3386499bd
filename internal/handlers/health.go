package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/middleware"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/juju/clock"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	mode      models.Mode
	version   string
	clock     clock.Clock
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(mode models.Mode, version string, clk clock.Clock) *HealthHandler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &HealthHandler{
		mode:      mode,
		version:   version,
		clock:     clk,
		startedAt: clk.Now(),
	}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	resp := models.HealthResponse{
		Status:        "healthy",
		Mode:          string(h.mode),
		Version:       h.version,
		UptimeSeconds: int64(h.clock.Now().Sub(h.startedAt).Seconds()),
	}
	if snap := middleware.CurrentSnapshot(c); snap != nil {
		resp.Node = snap.Settings.NodeName
	}
	c.JSON(http.StatusOK, resp)
}
