package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration, read once at startup.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scoring   ScoringConfig
	Analyzer  AnalyzerConfig
	Store     StoreConfig
	LLM       LLMConfig
	Solver    SolverConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Engine    EngineConfig
	Cache     CacheConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance (PUPPETEER_* env family).
type BrowserConfig struct {
	Headless          bool // default: true
	MaxPages          int  // default: 10
	DefaultProxy      string
	NoSandbox         bool // default: false
	BrowserBin        string
	ExtensionPaths    []string      // EXTENSION_PATHS, comma-separated
	NavigationTimeout time.Duration // PUPPETEER navigation timeout, default 15s
	DefaultTimeout    time.Duration // default per-request timeout, default 30s
	MaxTimeout        time.Duration // max allowed client-requested timeout, default 120s
	SettleDelay       time.Duration // post-navigation settle delay, default 500ms
	Viewport          string        // "WIDTHxHEIGHT", default "1920x1080"
}

// ScoringConfig carries the Scoring Engine's weights and thresholds.
type ScoringConfig struct {
	MinParagraphThreshold  int // default 3
	WSingle                float64
	WParagraph             float64
	WText                  float64
	WLink                  float64
	WSemantic              float64
	WIDBonus               float64
	WClassBonus            float64
	WClassContent          float64
	WShallow               float64
	WDepthBonus            float64
	WMedia                 float64
	WUnwanted              float64
	MinDepthForShallow     int
	DescriptiveKeywords    []string
	MinXPathScoreThreshold float64 // MIN_XPATH_SCORE_THRESHOLD
}

// AnalyzerConfig carries the HTML Analyzer's selector and keyword lists.
// Lists are data, not code paths: challenge markers, content keywords, and
// unwanted tags are all injectable here rather than baked into the analyzer.
type AnalyzerConfig struct {
	SnippetSelectors     []string // elements mined for LLM prompt snippets
	ContentClassKeywords []string // class substrings marking a div as content-bearing
	UnwantedTags         []string // tags counted against a candidate element
	ChallengeTextPattern string   // case-insensitive regex over raw page text
	ChallengeSelectors   []string // CSS selectors for known challenge iframes/containers
}

// StoreConfig controls the Site Config Store.
//
// RediscoveryThreshold and DOMComparisonThreshold are independent triggers
// for re-running Discovery on a domain. RediscoveryThreshold is reactive: once
// that many consecutive extractions with the stored locator have failed, the
// next request runs Discovery. DOMComparisonThreshold is proactive: when a
// Known-path extraction succeeds but the extracted subtree's simhash is more
// than this Hamming distance from the stored fingerprint, the domain is
// flagged PendingRevalidation and the next request runs Discovery, while the
// current request still succeeds and the failure counter is left alone.
type StoreConfig struct {
	Path                   string // KNOWN_SITES_STORAGE_PATH
	RediscoveryThreshold   int    // consecutive failures before forced rediscovery, default 2
	DOMComparisonThreshold int    // DOM_COMPARISON_THRESHOLD — simhash Hamming distance
}

// LLMConfig controls the LLM Suggester.
type LLMConfig struct {
	BaseURL        string // OpenRouter/OpenAI-compatible base URL
	APIKey         string // OPENROUTER_API_KEY
	Model          string // LLM_MODEL
	Temperature    float64
	MaxRetries     int // MAX_LLM_RETRIES
	MaxSnippets    int
	SnippetMaxLen  int
	RequestTimeout time.Duration
}

// SolverConfig controls the Challenge Solver Client.
type SolverConfig struct {
	ServiceName  string // CAPTCHA_SERVICE_NAME
	APIKey       string // CAPTCHA_API_KEY
	BaseURL      string
	PollInterval time.Duration // default 5s
	TotalTimeout time.Duration // default 60s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool
	APIKeys []string
}

// RateLimitConfig controls per-identity rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// EngineConfig controls miscellaneous Extraction Engine knobs.
type EngineConfig struct {
	MinContentLength      int // floor on located text length to accept a Known-path match
	DefaultUserAgent      string
	TLSInsecureSkipVerify bool // relax fetcher certificate validation; off unless explicitly enabled
}

// CacheConfig controls the response cache that lets repeated requests for
// the same URL/outputType/xpath combination skip the full pipeline.
type CacheConfig struct {
	MaxAgeMs   int // 0 disables cache lookups entirely
	MaxEntries int
}

// Load reads configuration from environment variables with sane defaults,
// matching the documented env var surface.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("HOST", "0.0.0.0"),
			Port: envIntOr("PORT", 8080),
			Mode: envOr("GIN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:          envBoolOr("PUPPETEER_HEADLESS", true),
			MaxPages:          envIntOr("PUPPETEER_MAX_PAGES", 10),
			DefaultProxy:      os.Getenv("HTTP_PROXY"),
			NoSandbox:         envBoolOr("PUPPETEER_NO_SANDBOX", false),
			BrowserBin:        os.Getenv("PUPPETEER_EXECUTABLE_PATH"),
			ExtensionPaths:    envSliceOr("EXTENSION_PATHS", nil),
			NavigationTimeout: envDurationOr("PUPPETEER_NAVIGATION_TIMEOUT", 15*time.Second),
			DefaultTimeout:    envDurationOr("CURL_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("PUPPETEER_MAX_TIMEOUT", 120*time.Second),
			SettleDelay:       envDurationOr("PUPPETEER_SETTLE_DELAY", 500*time.Millisecond),
			Viewport:          envOr("PUPPETEER_VIEWPORT", "1920x1080"),
		},
		Scoring: ScoringConfig{
			MinParagraphThreshold:  envIntOr("MIN_PARAGRAPH_THRESHOLD", 3),
			WSingle:                envFloatOr("SCORE_W_SINGLE", 20),
			WParagraph:             envFloatOr("SCORE_W_PARAGRAPH", 2),
			WText:                  envFloatOr("SCORE_W_TEXT", 30),
			WLink:                  envFloatOr("SCORE_W_LINK", -40),
			WSemantic:              envFloatOr("SCORE_W_SEMANTIC", 15),
			WIDBonus:               envFloatOr("SCORE_W_ID_BONUS", 50),
			WClassBonus:            envFloatOr("SCORE_W_CLASS_BONUS", 40),
			WClassContent:          envFloatOr("SCORE_W_CLASS_CONTENT", 20),
			WShallow:               envFloatOr("SCORE_W_SHALLOW", -30),
			WDepthBonus:            envFloatOr("SCORE_W_DEPTH_BONUS", 1),
			WMedia:                 envFloatOr("SCORE_W_MEDIA", 5),
			WUnwanted:              envFloatOr("SCORE_W_UNWANTED", -10),
			MinDepthForShallow:     envIntOr("MIN_DEPTH_FOR_SHALLOW_PENALTY", 3),
			DescriptiveKeywords:    envSliceOr("DESCRIPTIVE_KEYWORDS", []string{"content", "article", "body", "story", "post", "entry", "main"}),
			MinXPathScoreThreshold: envFloatOr("MIN_XPATH_SCORE_THRESHOLD", 40),
		},
		Analyzer: AnalyzerConfig{
			SnippetSelectors:     envSliceOr("SNIPPET_SELECTORS", []string{"p", "article", "main", "section", "div"}),
			ContentClassKeywords: envSliceOr("CONTENT_CLASS_KEYWORDS", []string{"content", "article", "body", "story", "post", "entry", "main", "text"}),
			UnwantedTags:         envSliceOr("UNWANTED_TAGS", []string{"nav", "footer", "aside", "header", "form", "script", "style", "figcaption", "figure", "details", "summary", "menu", "dialog"}),
			ChallengeTextPattern: envOr("CHALLENGE_TEXT_PATTERN", `(?i)(captcha|verify you are human|recaptcha|hcaptcha|turnstile|cloudflare|datadome|checking your browser|access denied)`),
			ChallengeSelectors: envSliceOr("CHALLENGE_SELECTORS", []string{
				`iframe[src*="captcha-delivery.com"]`,
				`.g-recaptcha`,
				`.cf-turnstile`,
				`[id*="captcha"]`,
				`[class*="captcha"]`,
				`iframe[src*="hcaptcha.com"]`,
			}),
		},
		Store: StoreConfig{
			Path:                   envOr("KNOWN_SITES_STORAGE_PATH", "./data/sites.json"),
			RediscoveryThreshold:   envIntOr("REDISCOVERY_THRESHOLD", 2),
			DOMComparisonThreshold: envIntOr("DOM_COMPARISON_THRESHOLD", 8),
		},
		LLM: LLMConfig{
			BaseURL:        envOr("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:         os.Getenv("OPENROUTER_API_KEY"),
			Model:          envOr("LLM_MODEL", "openai/gpt-4o-mini"),
			Temperature:    envFloatOr("LLM_TEMPERATURE", 0),
			MaxRetries:     envIntOr("MAX_LLM_RETRIES", 2),
			MaxSnippets:    envIntOr("LLM_MAX_SNIPPETS", 8),
			SnippetMaxLen:  envIntOr("LLM_SNIPPET_MAX_LEN", 400),
			RequestTimeout: envDurationOr("LLM_REQUEST_TIMEOUT", 30*time.Second),
		},
		Solver: SolverConfig{
			ServiceName:  envOr("CAPTCHA_SERVICE_NAME", ""),
			APIKey:       os.Getenv("CAPTCHA_API_KEY"),
			BaseURL:      envOr("CAPTCHA_BASE_URL", ""),
			PollInterval: envDurationOr("CAPTCHA_POLL_INTERVAL", 5*time.Second),
			TotalTimeout: envDurationOr("CAPTCHA_TOTAL_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("AUTH_ENABLED", true),
			APIKeys: envSliceOr("API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("RATE_LIMIT_RPS", 0.1667), // ~10/min
			Burst:             envIntOr("RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
		Engine: EngineConfig{
			MinContentLength:      envIntOr("MIN_CONTENT_LENGTH", 200),
			DefaultUserAgent:      envOr("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"),
			TLSInsecureSkipVerify: envBoolOr("TLS_INSECURE_SKIP_VERIFY", false),
		},
		Cache: CacheConfig{
			MaxAgeMs:   envIntOr("CACHE_MAX_AGE_MS", 0),
			MaxEntries: envIntOr("CACHE_MAX_ENTRIES", 1000),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
