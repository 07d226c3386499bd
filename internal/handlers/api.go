package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/middleware"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/imyashkale/fleetd/internal/services"
	"github.com/samber/lo"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// APIHandler serves the control-plane routes
type APIHandler struct {
	deploy *services.DeployService
	store  *registry.Store
}

// NewAPIHandler creates a new control-plane handler
func NewAPIHandler(deploy *services.DeployService, store *registry.Store) *APIHandler {
	return &APIHandler{
		deploy: deploy,
		store:  store,
	}
}

// Deployments lists the configured deployments
func (h *APIHandler) Deployments(c *gin.Context) {
	snap := middleware.CurrentSnapshot(c)

	summaries := lo.Map(snap.Definitions(), func(def *models.DeploymentDefinition, _ int) models.DeploymentSummary {
		s := def.Summary()
		s.Busy = h.deploy.Busy(def.Name)
		s.HasWebhook = snap.Binding(def.Name) != nil
		return s
	})

	c.JSON(http.StatusOK, models.DeploymentListResponse{
		Deployments: summaries,
		Total:       len(summaries),
	})
}

// Deploys lists execution history, newest first
func (h *APIHandler) Deploys(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   models.CodeBadRequest,
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := h.deploy.History(c.Request.Context(), c.Query("deployment"), limit)
	if err != nil {
		logger.WithField("error", err.Error()).Error("Failed to list execution history")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   models.CodeInternal,
			Message: "Failed to retrieve execution history",
		})
		return
	}

	c.JSON(http.StatusOK, models.ExecutionListResponse{
		Executions: records,
		Total:      len(records),
	})
}

// Reload re-reads the configuration file and swaps it in. The snapshot of
// this request is left as it was.
func (h *APIHandler) Reload(c *gin.Context) {
	if err := h.store.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   models.CodeReloadFailed,
			Message: err.Error(),
		})
		return
	}

	logger.WithField("subject", middleware.Subject(c)).Info("Configuration reloaded through the API")
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     "Configuration reloaded",
		"deployments": len(h.store.Current().Definitions()),
	})
}
