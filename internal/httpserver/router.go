package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"haper/internal/handler"
	"haper/internal/session"
	"haper/pkg/otel"
)

// ReadinessCheck reports whether one dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Deps struct {
	Auth         *handler.AuthHandler
	Reports      *handler.ReportHandler
	Users        *handler.UserHandler
	Sessions     *session.Manager
	PublicConfig handler.PublicConfig
	Readiness    map[string]ReadinessCheck
	AuthLimiter  *RateLimiter
	Logger       *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(d Deps) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), AccessLog(d.Logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readyz(d.Readiness))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// OAuth
	authGroup := r.Group("/api/auth")
	if d.AuthLimiter != nil {
		authGroup.Use(d.AuthLimiter.Middleware())
	}
	{
		authGroup.GET("/callback/:provider/:action", d.Auth.Callback)
		authGroup.GET("/:provider/:action", d.Auth.Begin)
		authGroup.POST("/logout", d.Auth.Logout)
	}

	api := r.Group("/api/v1")
	api.GET("/config/public", handler.PublicConfigHandler(d.PublicConfig))

	// Protected
	protected := api.Group("/")
	protected.Use(RequireSession(d.Sessions))
	{
		protected.GET("/dashboard", d.Reports.Dashboard)

		protected.GET("/user/info", d.Users.Info)
		protected.GET("/user/setting", d.Users.GetSettings)
		protected.POST("/user/setting", d.Users.CreateSettings)
		protected.PUT("/user/setting", d.Users.UpdateSettings)

		protected.GET("/tracking/status", d.Users.TrackingStatus)
		protected.POST("/tracking/start", d.Users.StartTracking)
		protected.POST("/tracking/stop", d.Users.StopTracking)

		protected.GET("/reports/newest", d.Reports.Newest)
		protected.POST("/reports/generate", d.Reports.Generate)
		protected.GET("/reports/history", d.Reports.History)
		protected.GET("/reports/:id", d.Reports.Get)
		protected.PUT("/reports/:id", d.Reports.Update)
		protected.GET("/reports/:id/message-content", d.Reports.MessageContent)
		protected.GET("/reports/:id/wait", d.Reports.Wait)
		protected.POST("/reports/:id/batch-action", d.Reports.StartBatchAction)
		protected.GET("/reports/:id/batch-action/status", d.Reports.BatchActionStatus)
		protected.GET("/reports/:id/message-processing-status", d.Reports.MessageProcessingStatus)
		protected.POST("/reports/:id/items/:email_id/reply/generate", d.Reports.GenerateReply)
		protected.DELETE("/reports/:id/items/:email_id/reply/generate", d.Reports.CancelReply)
		protected.PUT("/reports/:id/items/:email_id/reply", d.Reports.SaveReply)

		protected.POST("/checkout/session", d.Users.CreateCheckoutSession)
		protected.GET("/checkout/session-status", d.Users.CheckoutSessionStatus)
	}

	return &Router{Engine: r}
}

func readyz(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func (r *Router) Handler() http.Handler {
	return r.Engine
}
