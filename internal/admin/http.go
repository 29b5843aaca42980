package admin

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/abduss/ciphare/internal/janitor"
)

type sweepRunner interface {
	RunNow(ctx context.Context) (*janitor.Stats, error)
}

type gcRunner interface {
	RunNow(ctx context.Context) (*janitor.Stats, error)
	DryRun(ctx context.Context) (*janitor.Stats, error)
}

// RegisterRoutes mounts operator endpoints under /admin.
func RegisterRoutes(router *gin.RouterGroup, service tokenValidator, sweeper sweepRunner, collector gcRunner, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{sweeper: sweeper, collector: collector, logger: logger}
	adminGroup := router.Group("/admin", RequireOperator(service))
	{
		adminGroup.POST("/sweep", handler.sweep)
		adminGroup.POST("/gc", handler.gc)
	}
}

type httpHandler struct {
	sweeper   sweepRunner
	collector gcRunner
	logger    *zap.Logger
}

func (h *httpHandler) sweep(c *gin.Context) {
	stats, err := h.sweeper.RunNow(c.Request.Context())
	if err != nil {
		h.logger.Error("manual sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "stats": stats})
		return
	}
	h.audit(c, "sweep", stats)
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) gc(c *gin.Context) {
	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
			return
		}
		dryRun = parsed
	}

	run := h.collector.RunNow
	if dryRun {
		run = h.collector.DryRun
	}
	stats, err := run(c.Request.Context())
	if err != nil {
		h.logger.Error("manual gc failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gc failed", "stats": stats})
		return
	}
	h.audit(c, "gc", stats)
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) audit(c *gin.Context, action string, stats *janitor.Stats) {
	operator, _ := CurrentOperator(c)
	h.logger.Info("operator action",
		zap.String("action", action),
		zap.String("operator", operator.Subject),
		zap.String("stats", stats.Summary()),
	)
}
