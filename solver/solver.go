// Package solver implements the Challenge Solver Client: submits an
// anti-bot challenge task to a remote solver, polls for a cookie or token,
// and classifies failures into the closed error set. The HTTP-client
// shape is a context-bounded request with typed JSON decoding and
// status-based error classification.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/htmlanalyzer"
	"github.com/use-agent/adaptext/models"
)

// SolverErrCode is the closed set of solver-specific failure modes, carried
// inside a *models.ScrapeError's message under whichever kind fits the
// failure (CAPTCHA, CONFIGURATION, NETWORK, TIMEOUT, ...).
type SolverErrCode string

const (
	BannedIP      SolverErrCode = "BANNED_IP"
	Unsolvable    SolverErrCode = "UNSOLVABLE"
	ProxyError    SolverErrCode = "PROXY_ERROR"
	APIError      SolverErrCode = "API_ERROR"
	SolverTimeout SolverErrCode = "TIMEOUT"
	ConfigError   SolverErrCode = "CONFIG_ERROR"
)

// Request describes one challenge to solve.
type Request struct {
	ChallengeType string
	WebsiteURL    string
	ChallengeURL  string
	UserAgent     string
	ProxyURL      string
}

// Client submits and polls challenge-solving tasks against a remote solver
// service (e.g. a CAPTCHA-solving API).
type Client struct {
	httpClient *http.Client
	cfg        config.SolverConfig
}

// New creates a solver Client from configuration.
func New(cfg config.SolverConfig) *Client {
	return &Client{httpClient: &http.Client{}, cfg: cfg}
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      struct {
		Type         string `json:"type"`
		WebsiteURL   string `json:"websiteURL"`
		ChallengeURL string `json:"challengeUrl,omitempty"`
		UserAgent    string `json:"userAgent,omitempty"`
		ProxyURL     string `json:"proxyUrl,omitempty"`
	} `json:"task"`
}

type createTaskResponse struct {
	TaskID    string `json:"taskId"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type taskResultResponse struct {
	Status    string `json:"status"` // "processing" | "ready" | "error"
	ErrorCode string `json:"errorCode,omitempty"`
	Solution  struct {
		Cookie string `json:"cookie"`
		Token  string `json:"token"`
	} `json:"solution"`
}

// Solve runs the solver state machine: validate, pre-check the challenge URL,
// submit, poll, and return the solution cookie or token.
func (c *Client) Solve(ctx context.Context, req Request) (string, error) {
	if c.cfg.APIKey == "" {
		return "", newSolverError(models.ErrConfiguration, ConfigError, "solver API key not configured")
	}
	if req.ProxyURL == "" && requiresIPBoundProxy(req.ChallengeType) {
		return "", newSolverError(models.ErrConfiguration, ConfigError, "proxy required for IP-bound challenge but none configured")
	}
	if req.ChallengeURL == "" {
		return "", newSolverError(models.ErrConfiguration, ConfigError, "challenge URL is required")
	}

	inspection := htmlanalyzer.InspectChallengeURL(req.ChallengeURL)
	if inspection.Banned {
		return "", newSolverError(models.ErrCaptcha, BannedIP, "challenge URL pre-check reports a banned source IP: "+inspection.Reason)
	}

	if c.baseURL() == "" {
		return "", newSolverError(models.ErrConfiguration, ConfigError, "no solver endpoint: set a base URL or a known service name")
	}

	taskID, err := c.createTask(ctx, req)
	if err != nil {
		return "", err
	}

	return c.poll(ctx, taskID)
}

// serviceEndpoints maps known solver service names to their API base URLs,
// used when no explicit base URL is configured.
var serviceEndpoints = map[string]string{
	"capsolver":   "https://api.capsolver.com",
	"anticaptcha": "https://api.anti-captcha.com",
	"capmonster":  "https://api.capmonster.cloud",
}

func (c *Client) baseURL() string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return serviceEndpoints[strings.ToLower(c.cfg.ServiceName)]
}

func requiresIPBoundProxy(challengeType string) bool {
	switch challengeType {
	case "datadome":
		return true
	default:
		return false
	}
}

func (c *Client) createTask(ctx context.Context, req Request) (string, error) {
	body := createTaskRequest{ClientKey: c.cfg.APIKey}
	body.Task.Type = req.ChallengeType
	body.Task.WebsiteURL = req.WebsiteURL
	body.Task.ChallengeURL = req.ChallengeURL
	body.Task.UserAgent = req.UserAgent
	body.Task.ProxyURL = req.ProxyURL

	payload, err := json.Marshal(body)
	if err != nil {
		return "", newSolverError(models.ErrInternal, APIError, "failed to marshal createTask request")
	}

	endpoint := c.baseURL() + "/createTask"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", newSolverError(models.ErrInternal, APIError, "failed to build createTask request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", newSolverError(models.ErrNetwork, APIError, fmt.Sprintf("createTask request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newSolverError(models.ErrNetwork, APIError, "failed to read createTask response")
	}

	var parsed createTaskResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", newSolverError(models.ErrLLM, APIError, "failed to parse createTask response")
	}
	if parsed.ErrorCode != "" || resp.StatusCode != http.StatusOK {
		return "", classifyRemoteError(parsed.ErrorCode, resp.StatusCode)
	}
	if parsed.TaskID == "" {
		return "", newSolverError(models.ErrCaptcha, APIError, "createTask response missing taskId")
	}

	return parsed.TaskID, nil
}

func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(c.cfg.TotalTimeout)
	if c.cfg.TotalTimeout <= 0 {
		deadline = time.Now().Add(60 * time.Second)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return "", newSolverError(models.ErrTimeout, SolverTimeout, "solver polling exceeded total timeout")
		}

		result, err := c.getTaskResult(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch result.Status {
		case "ready":
			if result.Solution.Cookie != "" {
				return result.Solution.Cookie, nil
			}
			return result.Solution.Token, nil
		case "error":
			return "", classifyRemoteError(result.ErrorCode, 0)
		}

		select {
		case <-ctx.Done():
			return "", newSolverError(models.ErrTimeout, SolverTimeout, "context deadline exceeded while polling solver")
		case <-ticker.C:
		}
	}
}

func (c *Client) getTaskResult(ctx context.Context, taskID string) (*taskResultResponse, error) {
	payload, _ := json.Marshal(map[string]string{"clientKey": c.cfg.APIKey, "taskId": taskID})
	endpoint := c.baseURL() + "/getTaskResult"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, newSolverError(models.ErrInternal, APIError, "failed to build getTaskResult request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, newSolverError(models.ErrNetwork, APIError, fmt.Sprintf("getTaskResult request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newSolverError(models.ErrNetwork, APIError, "failed to read getTaskResult response")
	}

	var parsed taskResultResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newSolverError(models.ErrLLM, APIError, "failed to parse getTaskResult response")
	}
	return &parsed, nil
}

func classifyRemoteError(code string, statusCode int) *models.ScrapeError {
	switch code {
	case "ERROR_PROXY_CONNECT_FAILED", "ERROR_PROXY_FORMAT":
		return newSolverError(models.ErrNetwork, ProxyError, "solver reported a proxy error: "+code)
	case "ERROR_CAPTCHA_UNSOLVABLE":
		return newSolverError(models.ErrCaptcha, Unsolvable, "solver reports the challenge is unsolvable")
	case "ERROR_KEY_DOES_NOT_EXIST", "ERROR_ZERO_BALANCE":
		return newSolverError(models.ErrConfiguration, ConfigError, "solver reports a configuration error: "+code)
	default:
		if statusCode >= 500 {
			return newSolverError(models.ErrNetwork, APIError, fmt.Sprintf("solver API returned %d", statusCode))
		}
		return newSolverError(models.ErrCaptcha, APIError, "solver API error: "+code)
	}
}

func newSolverError(kind models.ErrKind, code SolverErrCode, msg string) *models.ScrapeError {
	return models.NewError(kind, fmt.Sprintf("[%s] %s", code, msg), nil)
}
