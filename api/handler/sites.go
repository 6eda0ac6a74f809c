package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/adaptext/models"
	"github.com/use-agent/adaptext/sitestore"
)

// ListSites returns a handler for GET /api/v1/sites: every learned domain
// record, for operators auditing which locators the engine has discovered.
func ListSites(store *sitestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, store.List())
	}
}

// GetSite returns a handler for GET /api/v1/sites/:domain.
func GetSite(store *sitestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Param("domain")
		cfg, ok := store.Get(domain)
		if !ok {
			c.JSON(http.StatusNotFound, models.ErrorDetail{
				Code:    string(models.ErrConfiguration),
				Message: "no record for domain " + domain,
			})
			return
		}
		c.JSON(http.StatusOK, models.SiteConfigResponse{SiteConfig: cfg})
	}
}

// DeleteSite returns a handler for DELETE /api/v1/sites/:domain: forces
// rediscovery on the domain's next scrape by forgetting its locator.
func DeleteSite(store *sitestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		domain := c.Param("domain")
		if err := store.Delete(domain); err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorDetail{
				Code:    string(models.ErrInternal),
				Message: "failed to delete site record",
			})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
