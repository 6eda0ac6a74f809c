package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/adaptext/api/handler"
	"github.com/use-agent/adaptext/api/middleware"
	"github.com/use-agent/adaptext/cache"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/extraction"
	"github.com/use-agent/adaptext/sitestore"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(engine *extraction.Engine, store *sitestore.Store, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	respCache := cache.New(cfg.Cache.MaxEntries)
	protected.POST("/scrape", handler.Scrape(engine, respCache, cfg.Cache))

	protected.GET("/sites", handler.ListSites(store))
	protected.GET("/sites/:domain", handler.GetSite(store))
	protected.DELETE("/sites/:domain", handler.DeleteSite(store))

	return r
}
