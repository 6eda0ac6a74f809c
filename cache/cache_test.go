package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/adaptext/models"
)

func TestKey_DeterministicAndDistinguishesInputs(t *testing.T) {
	k1 := Key("https://example.com/a", "markdown", "")
	k2 := Key("https://example.com/a", "markdown", "")
	k3 := Key("https://example.com/a", "content_only", "")
	k4 := Key("https://example.com/a", "markdown", "//article")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
}

func TestCache_SetThenGetWithinMaxAge(t *testing.T) {
	c := New(10)
	resp := &models.ScrapeResponse{Success: true, XPath: "//article"}
	c.Set("k1", resp)

	got, ok := c.Get("k1", 60000)
	assert.True(t, ok)
	assert.Same(t, resp, got)
}

func TestCache_MaxAgeZeroDisablesLookup(t *testing.T) {
	c := New(10)
	c.Set("k1", &models.ScrapeResponse{Success: true})

	_, ok := c.Get("k1", 0)
	assert.False(t, ok)
}

func TestCache_ExpiresAfterMaxAge(t *testing.T) {
	c := New(10)
	c.Set("k1", &models.ScrapeResponse{Success: true})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("k1", 1)
	assert.False(t, ok)
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := New(2)
	c.Set("k1", &models.ScrapeResponse{Success: true})
	c.Set("k2", &models.ScrapeResponse{Success: true})
	c.Set("k3", &models.ScrapeResponse{Success: true})

	count := 0
	for _, k := range []string{"k1", "k2", "k3"} {
		if _, ok := c.Get(k, 60000); ok {
			count++
		}
	}
	assert.LessOrEqual(t, count, 2)
}
