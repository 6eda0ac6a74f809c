package llmsuggester

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/htmlanalyzer"
)

func TestSuggest_DegradesToNilWithoutConfig(t *testing.T) {
	s := New(config.LLMConfig{}, htmlanalyzer.New(config.AnalyzerConfig{}))
	got := s.Suggest(context.Background(), "<html></html>", nil)
	assert.Nil(t, got)
}

func TestParseSuggestions_PlainJSON(t *testing.T) {
	suggestions, err := parseSuggestions(`[{"xpath": "//article", "explanation": "main content"}]`)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "//article", suggestions[0].XPath)
}

func TestParseSuggestions_StripsMarkdownFence(t *testing.T) {
	raw := "```json\n[{\"xpath\": \"//main\", \"explanation\": \"x\"}]\n```"
	suggestions, err := parseSuggestions(raw)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "//main", suggestions[0].XPath)
}

func TestParseSuggestions_MalformedJSONErrors(t *testing.T) {
	_, err := parseSuggestions("not json at all")
	assert.Error(t, err)
}

func TestStripFence_NoFenceIsNoOp(t *testing.T) {
	assert.Equal(t, "plain text", stripFence("plain text"))
}

func TestStripFence_RemovesFenceMarkers(t *testing.T) {
	assert.Equal(t, "inner", stripFence("```\ninner\n```"))
}

func TestBuildPrompt_IncludesSnippetsAndPreviousFailures(t *testing.T) {
	prompt := buildPrompt("<simplified/>", []string{"snippet one"}, []string{"//old/path"})
	assert.Contains(t, prompt, "snippet one")
	assert.Contains(t, prompt, "//old/path")
	assert.Contains(t, prompt, "already tried and rejected")
}

func TestBuildPrompt_OmitsPreviousFailuresSectionWhenEmpty(t *testing.T) {
	prompt := buildPrompt("<simplified/>", nil, nil)
	assert.NotContains(t, prompt, "already tried and rejected")
}
