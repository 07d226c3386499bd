package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/auth"
	"github.com/imyashkale/fleetd/internal/constraints"
	"github.com/imyashkale/fleetd/internal/lock"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/middleware"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/imyashkale/fleetd/internal/services"
	"github.com/sirupsen/logrus"
)

// MaxWebhookBody bounds the accepted webhook payload
const MaxWebhookBody = 5 << 20

// WebhookHandler handles deployment triggers
type WebhookHandler struct {
	deploy *services.DeployService
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(deploy *services.DeployService) *WebhookHandler {
	return &WebhookHandler{
		deploy: deploy,
	}
}

// Deploy handles POST /webhook/deploy/:name. The response is written once
// the execution has finished or been refused.
func (h *WebhookHandler) Deploy(c *gin.Context) {
	h.handle(c, h.deploy.Trigger, "Deployment succeeded")
}

// Shutdown handles POST /webhook/shutdown/:name
func (h *WebhookHandler) Shutdown(c *gin.Context) {
	h.handle(c, h.deploy.Shutdown, "Shutdown complete")
}

type triggerFunc func(*registry.Snapshot, services.TriggerRequest) (*models.ExecutionRecord, error)

func (h *WebhookHandler) handle(c *gin.Context, trigger triggerFunc, done string) {
	name := c.Param("name")
	snap := middleware.CurrentSnapshot(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:   models.CodePayloadTooLarge,
				Message: "Webhook payload is too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   models.CodeBadRequest,
			Message: "Failed to read request body",
		})
		return
	}

	peer, _ := middleware.PeerAddr(c.Request)
	rec, err := trigger(snap, services.TriggerRequest{
		Name:         name,
		Header:       c.Request.Header,
		Body:         body,
		PeerIP:       peer,
		ForwardedFor: c.GetHeader("X-Forwarded-For"),
		Subject:      middleware.Subject(c),
	})
	if err != nil {
		if errors.Is(err, auth.ErrSignatureInvalid) {
			logger.Suspicious(peer.String(), c.Request.Method, c.Request.URL.Path, models.CodeSignatureInvalid, c.GetHeader("X-Forwarded-For"))
		}
		status, resp := triggerError(name, rec, err)
		c.JSON(status, resp)
		return
	}

	resp := models.DeployResponse{
		Success:    true,
		Deployment: name,
		Status:     rec.Status,
		Execution:  rec,
	}
	if rec.Status == models.StatusSkipped {
		resp.Skipped = true
		resp.Reason = rec.Reason
		resp.Message = "Trigger accepted, nothing to do"
		resp.Execution = nil
	} else {
		resp.Message = done
	}
	c.JSON(http.StatusOK, resp)
}

// triggerError maps a trigger failure to its status code and body
func triggerError(name string, rec *models.ExecutionRecord, err error) (int, models.DeployResponse) {
	resp := models.DeployResponse{
		Deployment: name,
		Message:    err.Error(),
		Execution:  rec,
	}
	if rec != nil {
		resp.Status = rec.Status
		resp.Reason = rec.Reason
	}

	var (
		violation *constraints.Violation
		stepErr   *services.StepError
		status    int
	)
	switch {
	case errors.Is(err, auth.ErrSignatureInvalid):
		status, resp.Error, resp.Message = http.StatusUnauthorized, models.CodeSignatureInvalid, "Signature verification failed"
		resp.Deployment = ""
	case errors.As(err, &violation):
		status, resp.Error = http.StatusForbidden, models.CodeConstraintViolated
		resp.Reason = string(violation.Reason)
		resp.Execution = nil
	case errors.Is(err, registry.ErrDeploymentNotFound):
		status, resp.Error, resp.Message = http.StatusNotFound, models.CodeDeploymentNotFound, "Deployment not found"
	case errors.Is(err, lock.ErrBusy):
		status, resp.Error, resp.Message = http.StatusConflict, models.CodeDeploymentBusy, "Deployment is already running"
	case errors.Is(err, lock.ErrClosed):
		status, resp.Error, resp.Message = http.StatusServiceUnavailable, models.CodeShuttingDown, "Server is shutting down"
	case errors.Is(err, services.ErrExecutionTimedOut):
		status, resp.Error = http.StatusGatewayTimeout, models.CodeExecutionTimedOut
	case errors.Is(err, services.ErrExecutionCancelled):
		status, resp.Error = http.StatusServiceUnavailable, models.CodeExecutionCancelled
	case errors.As(err, &stepErr):
		status, resp.Error = http.StatusInternalServerError, stepErr.Code()
	default:
		logger.WithFields(logrus.Fields{
			"deployment": name,
			"error":      err.Error(),
		}).Error("Unexpected trigger failure")
		status, resp.Error, resp.Message = http.StatusInternalServerError, models.CodeInternal, "Internal error"
	}
	return status, resp
}
