package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors models.ScrapeRequest from the adaptext HTTP API.
type scrapeRequest struct {
	URL        string `json:"url"`
	OutputType string `json:"outputType,omitempty"`
	XPath      string `json:"xpath,omitempty"`
	Debug      bool   `json:"debug,omitempty"`
}

// scrapeResponse mirrors models.ScrapeResponse.
type scrapeResponse struct {
	Success bool            `json:"success"`
	Method  string          `json:"method,omitempty"`
	XPath   string          `json:"xpath,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	DebugID string          `json:"debugId,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func main() {
	apiURL := os.Getenv("ADAPTEXT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("ADAPTEXT_API_KEY")

	s := server.NewMCPServer(
		"adaptext",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Extract the main article content from a web page. Learns and reuses a per-domain content locator, escalating to a headless browser and anti-bot challenge solving only when needed."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("output_type",
			mcp.Description("Output rendition: 'markdown' (default), 'content_only', 'cleaned_html', 'full_html', or 'metadata_only'"),
			mcp.Enum("markdown", "content_only", "cleaned_html", "full_html", "metadata_only"),
		),
		mcp.WithString("xpath",
			mcp.Description("Optional explicit XPath locator that short-circuits locator discovery"),
		),
	)

	s.AddTool(scrapeURLTool, handleScrapeURL(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleScrapeURL(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := scrapeRequest{
			URL:        url,
			OutputType: request.GetString("output_type", ""),
			XPath:      request.GetString("xpath", ""),
		}

		body, err := json.Marshal(reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/v1/scrape", bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var sr scrapeResponse
		if err := json.Unmarshal(respBody, &sr); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		if !sr.Success {
			errMsg := "scrape failed"
			if sr.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", sr.Error.Code, sr.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		var content string
		if err := json.Unmarshal(sr.Payload, &content); err != nil {
			// metadata_only or debug mode returns an object payload; surface it verbatim.
			content = string(sr.Payload)
		}

		result := fmt.Sprintf("Method: %s  XPath: %s\n\n%s", sr.Method, sr.XPath, content)
		return mcp.NewToolResultText(result), nil
	}
}
