package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"milestonefund/internal/handler"
	"milestonefund/pkg/otel"
	"milestonefund/pkg/rbac"
)

// Pinger 就绪检查的依赖（数据库、Redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 把函数适配为 Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handlers struct {
	Campaign  *handler.CampaignHandler
	Milestone *handler.MilestoneHandler
	Platform  *handler.PlatformHandler
	Admin     *handler.AdminHandler
}

type RouterConfig struct {
	Auth        AuthConfig
	Idempotency IdempotencyStore // 为空时不启用
	Readiness   map[string]Pinger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, cfg RouterConfig, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), TraceMiddleware(), AccessLogMiddleware(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		for name, p := range cfg.Readiness {
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public reads
	r.GET("/campaigns", h.Campaign.List)
	r.GET("/campaigns/:id", h.Campaign.Get)
	r.GET("/campaigns/:id/contributors", h.Campaign.Contributors)
	r.GET("/campaigns/:id/investments/:contributor", h.Campaign.GetInvestment)
	r.GET("/campaigns/:id/escrow", h.Campaign.Escrow)
	r.GET("/campaigns/:id/milestones", h.Milestone.List)
	r.GET("/campaigns/:id/milestones/:index", h.Milestone.Get)
	r.GET("/campaigns/:id/milestones/:index/votes", h.Milestone.Votes)
	r.GET("/campaigns/:id/milestones/:index/voting", h.Milestone.VotingStatus)
	r.GET("/platform", h.Platform.State)
	r.GET("/platform/fee", h.Platform.QuoteFee)
	r.POST("/campaigns/:id/evaluate-expiry", h.Campaign.EvaluateExpiry)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(cfg.Auth))
	if cfg.Idempotency != nil {
		auth.Use(IdempotencyMiddleware(cfg.Idempotency, logger))
	}
	{
		auth.POST("/campaigns", h.Campaign.Create)
		auth.POST("/campaigns/:id/pause", h.Campaign.Pause)
		auth.POST("/campaigns/:id/unpause", h.Campaign.Unpause)
		auth.POST("/campaigns/:id/cancel", h.Campaign.Cancel)
		auth.POST("/campaigns/:id/investments", h.Campaign.Invest)
		auth.POST("/campaigns/:id/refunds/:contributor", h.Campaign.Refund)

		auth.POST("/campaigns/:id/milestones", h.Milestone.Create)
		auth.PATCH("/campaigns/:id/milestones/:index", h.Milestone.Update)
		auth.DELETE("/campaigns/:id/milestones/:index", h.Milestone.Delete)
		auth.POST("/campaigns/:id/milestones/:index/votes", h.Milestone.Vote)
		auth.POST("/campaigns/:id/milestones/:index/execute", h.Milestone.Execute)

		auth.PUT("/platform/fee", h.Platform.SetFee)
		auth.PUT("/platform/limits", h.Platform.SetLimits)
		auth.POST("/platform/fees/withdraw", h.Platform.WithdrawFees)
		auth.GET("/audit", h.Platform.Audit)
	}

	if h.Admin != nil {
		admin := auth.Group("/admin")
		admin.Use(RequirePermission(rbac.PermissionReplayOutbox))
		{
			admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Handler() http.Handler {
	return r.Engine
}
