// Package httpapi wires the HTTP transport (Gin) to the ingestion services:
// the mail provider's webhooks and the owner-facing app API, plus the
// cross-cutting middleware (tracing, correlation IDs, redacted logging, panic
// recovery, metrics, auth, rate limiting, CORS and security headers).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/pet-mail-ingest/internal/config"
	"github.com/tbourn/pet-mail-ingest/internal/http/handlers"
	"github.com/tbourn/pet-mail-ingest/internal/http/middleware"
	"github.com/tbourn/pet-mail-ingest/internal/services"
)

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (also attaches the request-scoped logger)
//  4. Recovery
//  5. Metrics, with /metrics
//  6. CORS and security headers
//
// Webhooks (/webhooks/...) sit behind the shared secret only. The app API
// (cfg.APIBasePath) adds bearer auth, per-user rate limiting and gzip.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ing *services.Ingester, failed *services.FailedEmailService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(db))

	h := handlers.New(ing, ing.Approvals, failed, handlers.Options{
		InboundDomain: cfg.Pipeline.InboundDomain,
		MaxBodyBytes:  cfg.Pipeline.MaxBodyBytes,
	})

	hooks := r.Group("/webhooks", middleware.WebhookSecret(cfg.Pipeline.WebhookSecret))
	{
		hooks.POST("/inbound-email", h.InboundEmail)
		hooks.POST("/inbound-email/raw", h.InboundEmailRaw)
	}

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Auth(cfg.JWTSecret),
		rl.Handler(),
		gzip.Gzip(gzip.DefaultCompression),
	)
	{
		api.GET("/approvals", h.ListApprovals)
		api.POST("/approvals/:id/approve", h.ApproveEmail)
		api.POST("/approvals/:id/reject", h.RejectEmail)

		api.GET("/failed-emails", h.ListFailedEmails)
		api.DELETE("/failed-emails/*key", h.DismissFailedEmail)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the allowlist.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match"},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// Also set ACAO on requests without an Origin header (health checks).
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(base)}
}

// readiness reports 503 until the database answers a ping.
func readiness(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness: database ping failed")
			handlers.Fail(c, http.StatusServiceUnavailable, "not_ready", "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
