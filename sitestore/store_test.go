package sitestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/adaptext/models"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sites.json")
}

func TestStore_MissingFileStartsEmpty(t *testing.T) {
	s := New(tempStorePath(t))
	assert.Empty(t, s.List())
}

func TestStore_CorruptFileStartsEmptyWithoutCrashing(t *testing.T) {
	path := tempStorePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path)
	assert.Empty(t, s.List())
}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	s := New(tempStorePath(t))
	cfg := models.SiteConfig{XPathMainContent: "//article", UserAgent: "test-agent"}

	require.NoError(t, s.Put("example.com", cfg))

	got, ok := s.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, "//article", got.XPathMainContent)
	assert.Equal(t, "example.com", got.DomainPattern)
}

func TestStore_DurableAcrossRestart(t *testing.T) {
	path := tempStorePath(t)
	s1 := New(path)
	require.NoError(t, s1.Put("example.com", models.SiteConfig{XPathMainContent: "//main"}))

	s2 := New(path)
	got, ok := s2.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, "//main", got.XPathMainContent)
}

func TestStore_IncrementFailure_CreatesThenIncrements(t *testing.T) {
	s := New(tempStorePath(t))

	n1, err := s.IncrementFailure("example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n1)

	n2, err := s.IncrementFailure("example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, n2)

	got, ok := s.Get("example.com")
	require.True(t, ok)
	assert.Empty(t, got.XPathMainContent)
}

func TestStore_MarkSuccess_ZeroesFailureAndStampsTimestamp(t *testing.T) {
	s := New(tempStorePath(t))
	_, err := s.IncrementFailure("example.com")
	require.NoError(t, err)
	_, err = s.IncrementFailure("example.com")
	require.NoError(t, err)

	require.NoError(t, s.MarkSuccess("example.com", "//article[@id='body']", true, 42))

	got, ok := s.Get("example.com")
	require.True(t, ok)
	assert.Equal(t, 0, got.FailureCountSinceLastSuccess)
	assert.Equal(t, "//article[@id='body']", got.XPathMainContent)
	assert.True(t, got.DiscoveredByLLM)
	assert.NotEmpty(t, got.LastSuccessfulScrapeTimestamp)
}

func TestStore_MarkSuccess_Idempotent(t *testing.T) {
	s := New(tempStorePath(t))
	require.NoError(t, s.MarkSuccess("example.com", "//article", false, 1))
	first, _ := s.Get("example.com")

	require.NoError(t, s.MarkSuccess("example.com", "//article", false, 1))
	second, _ := s.Get("example.com")

	assert.Equal(t, first.XPathMainContent, second.XPathMainContent)
	assert.Equal(t, first.FailureCountSinceLastSuccess, second.FailureCountSinceLastSuccess)
}

func TestStore_ListAndDelete(t *testing.T) {
	s := New(tempStorePath(t))
	require.NoError(t, s.Put("a.com", models.SiteConfig{}))
	require.NoError(t, s.Put("b.com", models.SiteConfig{}))

	assert.Len(t, s.List(), 2)

	require.NoError(t, s.Delete("a.com"))
	_, ok := s.Get("a.com")
	assert.False(t, ok)
	assert.Len(t, s.List(), 1)
}
