package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/adaptext/cache"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/extraction"
	"github.com/use-agent/adaptext/models"
)

// Scrape returns a handler for POST /api/v1/scrape. Parsing, defaulting, and
// the response cache lookup happen here; everything else (fetch/browser
// escalation, challenge solving, locator discovery, scoring, persistence,
// rendering) is the Extraction Engine's job.
func Scrape(engine *extraction.Engine, respCache *cache.Cache, cacheCfg config.CacheConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ScrapeResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    string(models.ErrConfiguration),
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		key := cache.Key(req.URL, req.OutputType, req.XPath)
		if cached, hit := respCache.Get(key, cacheCfg.MaxAgeMs); hit {
			c.JSON(statusFor(cached), cached)
			return
		}

		resp := engine.Scrape(c.Request.Context(), req)
		if resp.Success {
			respCache.Set(key, resp)
		}
		c.JSON(statusFor(resp), resp)
	}
}

// statusFor maps a ScrapeResponse's error kind to an HTTP status.
func statusFor(resp *models.ScrapeResponse) int {
	if resp.Success || resp.Error == nil {
		return http.StatusOK
	}
	switch models.ErrKind(resp.Error.Code) {
	case models.ErrConfiguration:
		return http.StatusBadRequest
	case models.ErrNetwork:
		return http.StatusBadGateway
	case models.ErrExtraction:
		return http.StatusUnprocessableEntity
	case models.ErrCaptcha:
		return http.StatusServiceUnavailable
	case models.ErrLLM:
		return http.StatusServiceUnavailable
	case models.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
