// Package llmsuggester implements the LLM Suggester: it asks a chat-
// completion model for candidate XPath locators to the article body of a
// simplified DOM, tolerating fenced and malformed responses. Degradation
// on failure is total (an empty suggestion slice), since the Extraction
// Engine treats the LLM as an optional aid, never a hard dependency.
package llmsuggester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/htmlanalyzer"
	"github.com/use-agent/adaptext/models"
)

// Suggester proposes candidate XPaths for a page's main content by prompting
// a chat-completion model.
type Suggester struct {
	httpClient *http.Client
	cfg        config.LLMConfig
	analyzer   *htmlanalyzer.Analyzer
}

// New creates a Suggester from configuration. The analyzer supplies the
// configured snippet selectors the prompt is built from.
func New(cfg config.LLMConfig, analyzer *htmlanalyzer.Analyzer) *Suggester {
	return &Suggester{httpClient: &http.Client{}, cfg: cfg, analyzer: analyzer}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Suggest returns candidate XPath locators for rawHTML's main content,
// degrading to an empty slice (never an error the caller must act on) if the
// LLM is unreachable, misconfigured, or returns unparsable output. prevFail,
// when non-empty, is folded into the prompt as a hint about a suggestion
// that already failed scoring, so a retry does not repeat it.
func (s *Suggester) Suggest(ctx context.Context, rawHTML string, prevFail []string) []models.LlmXPathSuggestion {
	if s.cfg.BaseURL == "" || s.cfg.APIKey == "" {
		return nil
	}

	simplified := htmlanalyzer.SimplifyDom(rawHTML, 20000, 40)
	snippets := s.analyzer.ExtractSnippets(rawHTML, s.cfg.MaxSnippets, s.cfg.SnippetMaxLen)

	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		suggestions, err := s.attempt(ctx, simplified, snippets, prevFail)
		if err == nil {
			return suggestions
		}
		lastErr = err
	}
	_ = lastErr
	return nil
}

func (s *Suggester) attempt(ctx context.Context, simplified string, snippets []string, prevFail []string) ([]models.LlmXPathSuggestion, error) {
	prompt := buildPrompt(simplified, snippets, prevFail)

	reqBody := chatRequest{
		Model:       s.cfg.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, models.NewError(models.ErrInternal, "failed to marshal LLM request", err)
	}

	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, models.NewError(models.ErrInternal, "failed to build LLM request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, models.NewError(models.ErrLLM, fmt.Sprintf("LLM request failed: %v", err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewError(models.ErrLLM, "failed to read LLM response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.ErrLLM, fmt.Sprintf("LLM API returned %d", resp.StatusCode), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, models.NewError(models.ErrLLM, "failed to parse LLM response envelope", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, models.NewError(models.ErrLLM, "LLM returned no choices", nil)
	}

	return parseSuggestions(parsed.Choices[0].Message.Content)
}

const systemPrompt = `You locate the main article body of an HTML page. You are given a simplified DOM (noise stripped, text lengths annotated) and a few text snippets drawn from candidate elements. Respond with a JSON array of candidate XPath expressions, most likely first, each as {"xpath": "...", "explanation": "..."}. Return ONLY the JSON array, no markdown fences, no prose.`

func buildPrompt(simplified string, snippets []string, prevFail []string) string {
	var b strings.Builder
	b.WriteString("Simplified DOM:\n")
	b.WriteString(simplified)
	b.WriteString("\n\nCandidate text snippets:\n")
	for i, snip := range snippets {
		fmt.Fprintf(&b, "%d. %s\n", i+1, snip)
	}
	if len(prevFail) > 0 {
		b.WriteString("\nThe following XPaths were already tried and rejected by scoring — do not suggest them again:\n")
		for _, xp := range prevFail {
			b.WriteString("- ")
			b.WriteString(xp)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseSuggestions tolerates a response wrapped in a ```json fenced code
// block, which instruction-tuned models emit despite being told not to.
func parseSuggestions(raw string) ([]models.LlmXPathSuggestion, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = stripFence(trimmed)

	var suggestions []models.LlmXPathSuggestion
	if err := json.Unmarshal([]byte(trimmed), &suggestions); err != nil {
		return nil, models.NewError(models.ErrLLM, "failed to parse suggestion JSON", err)
	}
	return suggestions, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
