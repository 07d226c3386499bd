package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/handlers"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/middleware"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the route handlers. Agents is only used in home mode.
type Handlers struct {
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler
	API     *handlers.APIHandler
	Agents  *handlers.AgentHandler
}

// Options configure the router
type Options struct {
	Mode     models.Mode
	Store    *registry.Store
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Setup configures and returns the application router
func Setup(opts Options, h Handlers) *gin.Engine {
	router := gin.New()

	// Isolation decisions use the socket peer only
	_ = router.SetTrustedProxies(nil)

	router.Use(gin.Recovery())
	router.Use(middleware.Snapshot(opts.Store))
	router.Use(middleware.RequestLogger(opts.Metrics))
	router.Use(middleware.Isolation(opts.Metrics))
	router.Use(middleware.CORS())

	router.GET("/health", h.Health.Check)

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	router.POST("/webhook/deploy/:name", h.Webhook.Deploy)
	router.POST("/webhook/shutdown/:name", h.Webhook.Shutdown)

	api := router.Group("/api")
	api.Use(middleware.Authentication(opts.Metrics))
	{
		api.GET("/deployments", h.API.Deployments)
		api.GET("/deploys", h.API.Deploys)
		api.POST("/reload", h.API.Reload)

		if opts.Mode == models.ModeHome && h.Agents != nil {
			api.GET("/agents", h.Agents.List)
		}
	}

	return router
}
