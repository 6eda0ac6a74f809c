package models

// ScrapeResponse is the response for POST /api/v1/scrape. Its shape mirrors
// ScrapeResult plus the request-scoped metadata the API layer adds.
type ScrapeResponse struct {
	Success     bool         `json:"success"`
	Method      string       `json:"method,omitempty"`
	XPath       string       `json:"xpath,omitempty"`
	Payload     interface{}  `json:"payload,omitempty"`
	RawSnapshot string       `json:"rawSnapshot,omitempty"`
	DebugID     string       `json:"debugId,omitempty"`
	Error       *ErrorDetail `json:"error,omitempty"`
}

// MetadataPayload is the Payload shape when OutputType is metadata_only.
type MetadataPayload struct {
	TextLength     int    `json:"textLength"`
	TokenEstimate  int    `json:"tokenEstimate"`
	ParagraphCount int    `json:"paragraphCount"`
	ElementCount   int    `json:"elementCount"`
	NavigationMs   int64  `json:"navigationMs"`
	ExtractionMs   int64  `json:"extractionMs"`
	TotalMs        int64  `json:"totalMs"`
	FetchMethod    string `json:"fetchMethod"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// SiteConfigResponse is the response shape for the administrative site
// config endpoints (list/get/delete), which sit outside the scrape request
// path but are still part of the Site Config Store's external surface.
type SiteConfigResponse struct {
	SiteConfig
}
