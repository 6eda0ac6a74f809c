package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
}

func TestEstimateTokens_ScalesWithRuneCount(t *testing.T) {
	short := EstimateTokens("hello")
	long := EstimateTokens("hello, this is a much longer piece of text content")
	assert.Greater(t, long, short)
	assert.GreaterOrEqual(t, short, 1)
}

func TestExtractContent_FallsBackOnInvalidURL(t *testing.T) {
	article, ok := ExtractContent("<html><body><p>content</p></body></html>", "://not a url")
	assert.False(t, ok)
	assert.NotEmpty(t, article.Content)
}

func TestExtractContent_FallsBackWhenTooShort(t *testing.T) {
	article, ok := ExtractContent("<html><body><p>hi</p></body></html>", "https://example.com/a")
	assert.False(t, ok)
	assert.NotEmpty(t, article.Content)
}

func TestToMarkdown_ConvertsBasicHTML(t *testing.T) {
	conv := NewMarkdownConverter()
	md, err := ToMarkdown(conv, "<p>Hello <strong>world</strong></p>", "example.com")
	require.NoError(t, err)
	assert.Contains(t, md, "Hello")
	assert.Contains(t, md, "world")
}
