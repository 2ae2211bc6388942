package main

import (
	"net/http"

	"voicedesk/internal/config"
	"voicedesk/internal/digest"
	"voicedesk/internal/httpapi"
	"voicedesk/internal/observability"
	"voicedesk/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	adminRPS   = 5
	adminBurst = 20
	authRPS    = 1
	authBurst  = 5
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, deps components, authMW gin.HandlerFunc) {
	if cfg.OTEL.Enabled {
		r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	}
	r.Use(observability.Metrics())

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Voice provider webhooks. Authenticated by shared secret when configured.
	wh := webhook.Handler{Router: deps.webhooks, Secret: cfg.Vapi.WebhookSecret}
	r.POST("/webhooks/vapi", wh.Handle)

	// Digest trigger for an external scheduler. Bearer CRON_SECRET.
	dh := digest.Handler{Scheduler: deps.scheduler, Secret: cfg.Digest.CronSecret}
	r.Match([]string{http.MethodGet, http.MethodPost}, "/internal/digest/run", dh.Run)

	// token issuance, limited per client IP
	tokens := r.Group("")
	tokens.Use(httpapi.NewRateLimiter(authRPS, authBurst).Handler())
	deps.tokens.Register(tokens)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW, httpapi.NewRateLimiter(adminRPS, adminBurst).Handler())
	deps.admin.Register(v1)
}
