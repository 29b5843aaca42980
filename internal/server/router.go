package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/admin"
	"github.com/abduss/ciphare/internal/config"
	"github.com/abduss/ciphare/internal/janitor"
	"github.com/abduss/ciphare/internal/logger"
	"github.com/abduss/ciphare/internal/metrics"
	"github.com/abduss/ciphare/internal/share"
)

// Pinger is implemented by every backend the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck names a backend for the readiness response.
type ReadinessCheck struct {
	Component string
	Pinger    Pinger
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config       config.Config
	Logger       *zap.Logger
	ShareService *share.Service
	AdminService *admin.Service
	Sweeper      *janitor.Sweeper
	Collector    *janitor.Collector
	Checks       []ReadinessCheck
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.InitMetrics()
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.ShareService != nil {
		share.RegisterRoutes(api, deps.ShareService, deps.Config.Share.PublicBaseURL)
	}
	if deps.AdminService != nil && deps.Sweeper != nil && deps.Collector != nil {
		admin.RegisterRoutes(api, deps.AdminService, deps.Sweeper, deps.Collector, deps.Logger)
	}

	return router
}
