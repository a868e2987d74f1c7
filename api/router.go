package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagesignal/api/handler"
	"github.com/use-agent/pagesignal/api/middleware"
	"github.com/use-agent/pagesignal/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
// The batch history routes are registered only when store is non-nil.
func NewRouter(q *handler.Queue, store handler.BatchStore, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health: no auth required.
	v1.GET("/health", handler.Health(q, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/scans", handler.PostScan(q))
	protected.GET("/scans/:id", handler.GetScan(q))

	if store != nil {
		protected.GET("/batches", handler.ListBatches(store))
		protected.GET("/batches/:id/results", handler.GetBatchResults(store))
	}

	return r
}
