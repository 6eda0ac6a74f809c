package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/adaptext/models"
)

// version is reported on the health endpoint. Bumped by hand on release.
const version = "0.1.0"

// Health returns a handler for GET /api/v1/health. It carries no pool
// utilization signal: sessions are ephemeral per request, so "healthy"
// means only "the process is up and answering."
func Health(startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  "healthy",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
		})
	}
}
