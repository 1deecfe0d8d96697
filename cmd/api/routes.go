package main

import (
	"database/sql"
	"net/http"
	"time"

	"virtualcare-platform/internal/httpapi"
	"virtualcare-platform/internal/observability"
	"virtualcare-platform/internal/presence"
	"virtualcare-platform/internal/rbac"
	"virtualcare-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	AuthMW        gin.HandlerFunc
	Calls         httpapi.CallService
	WebhookSecret string
	WS            *presence.Handler
	Gatherer      prometheus.Gatherer

	// Optional backends probed by /healthz.
	DB    *sql.DB
	Redis *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{Calls: d.Calls, WebhookSecret: d.WebhookSecret}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if d.DB != nil {
			if err := utils.HealthCheck(ctx, d.DB, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
				return
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": "down"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.MetricsHandler(d.Gatherer)))

	// Signaling for devices, patient browsers and consoles.
	r.GET("/ws", d.WS.ServeWS)

	// TV system webhook (public, optional shared secret).
	r.POST("/webhooks/target-action", h.TargetAction)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW)
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", rbac.RequireAnyRole(rbac.CallerRoles...), h.StartCall)
			callGroup.GET("/:session_id", h.GetCall)
			callGroup.POST("/:session_id/end", rbac.RequireAnyRole(rbac.CallerRoles...), h.EndCall)
		}
	}
}
