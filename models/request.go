package models

// ScrapeRequest is the payload for POST /api/v1/scrape, matching the
// design: {url, outputType?, proxyServer?, userAgent?, timeoutMs?, xpath?, debug?}.
type ScrapeRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// OutputType selects the output pipeline's rendition.
	// Allowed: "markdown" (default), "content_only", "cleaned_html",
	// "full_html", "metadata_only".
	OutputType string `json:"outputType,omitempty" binding:"omitempty,oneof=markdown content_only cleaned_html full_html metadata_only"`

	// ProxyServer overrides the default proxy for this request.
	ProxyServer string `json:"proxyServer,omitempty"`

	// UserAgent overrides the configured default user agent.
	UserAgent string `json:"userAgent,omitempty"`

	// TimeoutMs is the request deadline in milliseconds. Default 30000,
	// clamped to the server's configured maximum.
	TimeoutMs int `json:"timeoutMs,omitempty" binding:"omitempty,min=1"`

	// XPath, when set, short-circuits discovery: the engine treats it as
	// an explicit locator override and enters the Known path directly.
	XPath string `json:"xpath,omitempty"`

	// Debug requests a correlation id and extra diagnostic fields on the
	// response.
	Debug bool `json:"debug,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.OutputType == "" {
		r.OutputType = string(OutputMarkdown)
	}
	if r.TimeoutMs == 0 {
		r.TimeoutMs = 30000
	}
}
