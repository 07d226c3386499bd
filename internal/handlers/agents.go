package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/middleware"
	"github.com/imyashkale/fleetd/internal/services"
)

// AgentHandler reports the agents watched by a home node
type AgentHandler struct {
	monitor *services.AgentMonitor
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(monitor *services.AgentMonitor) *AgentHandler {
	return &AgentHandler{
		monitor: monitor,
	}
}

// List handles GET /api/agents
func (h *AgentHandler) List(c *gin.Context) {
	snap := middleware.CurrentSnapshot(c)
	c.JSON(http.StatusOK, h.monitor.Statuses(snap.Agents()))
}
