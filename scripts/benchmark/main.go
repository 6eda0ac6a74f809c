// Benchmark harness: drives a running adaptext server over /api/v1/scrape
// and reports per-URL latency, locator reuse, and token estimates. The first
// run against an unknown domain pays the full discovery pipeline; later runs
// should ride the stored locator, so per-run timings expose the known-path
// speedup directly.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "adaptext API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per URL for averaging")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering 5 site types.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"News", "https://www.bbc.com/news"},
	{"Complex", "https://github.com/go-rod/rod"},
}

// --- Request / Response types (mirrors models package) ---

type scrapeRequest struct {
	URL        string `json:"url"`
	OutputType string `json:"outputType"`
	TimeoutMs  int    `json:"timeoutMs"`
	Debug      bool   `json:"debug"`
}

type scrapeResponse struct {
	Success bool            `json:"success"`
	Method  string          `json:"method"`
	XPath   string          `json:"xpath"`
	Payload json.RawMessage `json:"payload"`
	DebugID string          `json:"debugId"`
	Error   *errorDetail    `json:"error,omitempty"`
}

// debugPayload is the {content, metadata} object the API returns when
// debug=true, which is what gives the harness its timing breakdown.
type debugPayload struct {
	Content  string   `json:"content"`
	Metadata metadata `json:"metadata"`
}

type metadata struct {
	TextLength     int    `json:"textLength"`
	TokenEstimate  int    `json:"tokenEstimate"`
	ParagraphCount int    `json:"paragraphCount"`
	ElementCount   int    `json:"elementCount"`
	NavigationMs   int64  `json:"navigationMs"`
	ExtractionMs   int64  `json:"extractionMs"`
	TotalMs        int64  `json:"totalMs"`
	FetchMethod    string `json:"fetchMethod"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Benchmark result types ---

type runResult struct {
	Run            int    `json:"run"`
	TotalMs        int64  `json:"total_ms"`
	NavigationMs   int64  `json:"navigation_ms"`
	ExtractionMs   int64  `json:"extraction_ms"`
	TokenEstimate  int    `json:"token_estimate"`
	ParagraphCount int    `json:"paragraph_count"`
	ContentLength  int    `json:"content_length"`
	Method         string `json:"method"`
	XPath          string `json:"xpath"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

type urlAverages struct {
	TotalMs       float64 `json:"total_ms"`
	NavigationMs  float64 `json:"navigation_ms"`
	ExtractionMs  float64 `json:"extraction_ms"`
	ContentLength float64 `json:"content_length"`
}

type urlResult struct {
	URL      string       `json:"url"`
	Label    string       `json:"label"`
	Runs     []runResult  `json:"runs"`
	Averages *urlAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== adaptext Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	// Quick connectivity check.
	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure adaptext is running (e.g. go run ./cmd/adaptext)\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkURL(t.URL, i)
			if rr.Success {
				fmt.Printf("OK  %dms  method=%s\n", rr.TotalMs, rr.Method)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}

		ur.Averages = computeAverages(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	// Print summary table.
	printTable(report.Results)

	// Write JSON report.
	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkURL(url string, run int) runResult {
	rr := runResult{Run: run}

	reqBody := scrapeRequest{
		URL:        url,
		OutputType: "markdown",
		TimeoutMs:  60000,
		Debug:      true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest("POST", *apiURL+"/api/v1/scrape", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var sr scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = sr.Success
	rr.Method = sr.Method
	rr.XPath = sr.XPath

	if sr.Error != nil {
		rr.Error = sr.Error.Message
		return rr
	}

	var dp debugPayload
	if err := json.Unmarshal(sr.Payload, &dp); err != nil {
		rr.Error = fmt.Sprintf("payload decode error: %v", err)
		return rr
	}
	rr.TotalMs = dp.Metadata.TotalMs
	rr.NavigationMs = dp.Metadata.NavigationMs
	rr.ExtractionMs = dp.Metadata.ExtractionMs
	rr.TokenEstimate = dp.Metadata.TokenEstimate
	rr.ParagraphCount = dp.Metadata.ParagraphCount
	rr.ContentLength = len(dp.Content)

	return rr
}

func computeAverages(runs []runResult) *urlAverages {
	var successCount int
	var avg urlAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.TotalMs += float64(r.TotalMs)
		avg.NavigationMs += float64(r.NavigationMs)
		avg.ExtractionMs += float64(r.ExtractionMs)
		avg.ContentLength += float64(r.ContentLength)
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.TotalMs /= n
	avg.NavigationMs /= n
	avg.ExtractionMs /= n
	avg.ContentLength /= n
	return &avg
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tAvg Latency\tContent Len\tMethod\tXPath\n")
	fmt.Fprintf(w, "───\t───────────\t───────────\t──────\t─────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}

		last := r.Runs[len(r.Runs)-1]
		fmt.Fprintf(w, "%s\t%dms\t%s\t%s\t%s\n",
			truncateURL(r.URL, 40),
			int64(r.Averages.TotalMs),
			formatInt(int(r.Averages.ContentLength)),
			last.Method,
			truncateURL(last.XPath, 30),
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func formatInt(n int) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
