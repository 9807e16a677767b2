package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"device-relay-backend/config"
	"device-relay-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router. ws serves the relay
// upgrade on GET /ws.
func NewRouter(cfg config.ServerConfig, h *Handler, ws http.Handler, limiter *mw.IPRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.Metrics())

	if limiter == nil {
		limiter = mw.NewIPRateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, 0)
	}
	rateLimit := mw.RateLimit(limiter)

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if ws != nil {
		r.GET("/ws", gin.WrapH(ws))
	}

	authGroup := r.Group("/auth")
	authGroup.Use(rateLimit)
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	api := r.Group("/api")
	api.Use(rateLimit, mw.Authenticate(h.tokens))
	{
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:id", h.GetDevice) // carries the live connected flag
		api.GET("/devices/:id/activity", h.GetDeviceActivity)
		api.GET("/devices/:id/commands/pending", h.GetPendingCommands)
		api.GET("/devices/:id/apps", caching, h.GetDeviceApps)
		api.POST("/devices/:id/token", h.IssueDeviceToken)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
