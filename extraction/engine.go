// Package extraction implements the Extraction Engine: the state machine
// that turns a URL into a located, scored, rendered content payload,
// coordinating every other component. The pipeline shape is cheap fetch
// first, escalate to a browser only on challenge or failure, persist the
// winning locator for next time, built around a Known/Discovery
// locator-learning design.
package extraction

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/use-agent/adaptext/browserdriver"
	"github.com/use-agent/adaptext/cleaner"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/fetch"
	"github.com/use-agent/adaptext/htmlanalyzer"
	"github.com/use-agent/adaptext/llmsuggester"
	"github.com/use-agent/adaptext/models"
	"github.com/use-agent/adaptext/normalizer"
	"github.com/use-agent/adaptext/scoring"
	"github.com/use-agent/adaptext/simhash"
	"github.com/use-agent/adaptext/sitestore"
	"github.com/use-agent/adaptext/solver"
)

// simplifyMaxTextLen and simplifyMinAnnotateSize match llmsuggester's own
// SimplifyDom call so the same page produces the same simplified shape
// everywhere it's fingerprinted or prompted from.
const (
	simplifyMaxTextLen      = 20000
	simplifyMinAnnotateSize = 40
)

// Engine wires the Site Config Store, Fetcher, Browser Driver, Challenge
// Solver Client, LLM Suggester, HTML Analyzer, and Scoring Engine into the
// single Scrape operation. It depends only on their operation contracts
// (Fetcher, BrowserDriver, SolverClient, Suggester, SiteStore), so tests can
// substitute in-memory fakes for every collaborator.
type Engine struct {
	cfg          *config.Config
	store        SiteStore
	fetcher      Fetcher
	browser      BrowserDriver
	solver       SolverClient
	suggester    Suggester
	analyzer     *htmlanalyzer.Analyzer
	markdownConv *converter.Converter
	sanitizer    *bluemonday.Policy
}

// New wires an Engine from its real components.
func New(cfg *config.Config, store *sitestore.Store, fetcher *fetch.Fetcher, browser *browserdriver.Driver, solverClient *solver.Client, suggester *llmsuggester.Suggester) *Engine {
	return newEngine(cfg, store, fetcher, &browserDriverAdapter{driver: browser}, solverClient, suggester)
}

// newEngine wires an Engine directly from its operation contracts, bypassing
// the concrete-to-adapter plumbing New does for the real Browser Driver.
// Tests use this to inject fakes for every collaborator.
func newEngine(cfg *config.Config, store SiteStore, fetcher Fetcher, browser BrowserDriver, solverClient SolverClient, suggester Suggester) *Engine {
	return &Engine{
		cfg:          cfg,
		store:        store,
		fetcher:      fetcher,
		browser:      browser,
		solver:       solverClient,
		suggester:    suggester,
		analyzer:     htmlanalyzer.New(cfg.Analyzer),
		markdownConv: cleaner.NewMarkdownConverter(),
		sanitizer:    bluemonday.UGCPolicy(),
	}
}

// page bundles the rendered HTML an extraction attempt has available,
// however it was obtained, plus the optional live browser session it came
// from (needed only if a challenge solve must inject cookies back in).
// session is an opaque handle from BrowserDriver.Open; nil when the page
// came from the plain Fetcher.
type page struct {
	html    string
	method  models.FetchMethod
	session any
}

// Scrape runs Validate -> LookupConfig -> Fetch -> DetectChallenge ->
// [Solve] -> Extract -> Score -> Persist -> Done|Fail against req.
func (e *Engine) Scrape(ctx context.Context, req models.ScrapeRequest) *models.ScrapeResponse {
	req.Defaults()
	if max := e.cfg.Browser.MaxTimeout; max > 0 && time.Duration(req.TimeoutMs)*time.Millisecond > max {
		req.TimeoutMs = int(max.Milliseconds())
	}
	start := time.Now()

	var debugID string
	if req.Debug {
		debugID = uuid.NewString()
	}

	domain := normalizer.NormalizeDomain(req.URL)
	if domain == normalizer.Invalid {
		return errorResponse(models.NewError(models.ErrConfiguration, "url does not parse as an absolute http(s) URL", nil), debugID)
	}

	cfg, hasCfg := e.store.Get(domain)

	sctx := models.ScrapeContext{
		URL:           req.URL,
		Domain:        domain,
		Method:        models.MethodFetch,
		ProxyURL:      req.ProxyServer,
		UserAgent:     req.UserAgent,
		XPathOverride: req.XPath,
		DebugID:       debugID,
		OutputType:    models.OutputType(req.OutputType),
		Deadline:      start.Add(time.Duration(req.TimeoutMs) * time.Millisecond),
	}
	if hasCfg {
		sctx.Config = &cfg
	}
	if sctx.ProxyURL == "" && hasCfg && cfg.NeedsProxy {
		sctx.ProxyURL = e.cfg.Browser.DefaultProxy
	}
	if sctx.UserAgent == "" {
		if hasCfg && cfg.UserAgent != "" {
			sctx.UserAgent = cfg.UserAgent
		} else {
			sctx.UserAgent = e.cfg.Engine.DefaultUserAgent
		}
	}

	ctx, cancel := context.WithDeadline(ctx, sctx.Deadline)
	defer cancel()

	pg, navMs, err := e.obtainPage(ctx, sctx)
	if err != nil {
		e.store.IncrementFailure(domain)
		return errorResponse(err, debugID)
	}
	// locate may escalate a Fetcher page into a browser session mid-request,
	// so the close check has to run against pg's final state.
	defer func() {
		if pg.session != nil {
			e.browser.Close(pg.session)
		}
	}()

	extractStart := time.Now()
	xpath, details, discoveredByLLM, extractErr := e.locate(ctx, sctx, pg)
	extractMs := time.Since(extractStart).Milliseconds()

	if extractErr != nil {
		failures, _ := e.store.IncrementFailure(domain)
		slog.Info("extraction: failed to locate content", "domain", domain, "failures", failures, "error", extractErr)
		return errorResponse(extractErr, debugID)
	}

	elementHTML, elemErr := htmlanalyzer.ExtractElementHTML(pg.html, xpath)
	if elemErr != nil {
		return errorResponse(models.NewError(models.ErrExtraction, "failed to extract located element", elemErr), debugID)
	}
	simplified := htmlanalyzer.SimplifyDom(elementHTML, simplifyMaxTextLen, simplifyMinAnnotateSize)
	liveFingerprint := htmlanalyzer.DOMFingerprint(simplified)

	if err := e.store.MarkSuccess(domain, xpath, discoveredByLLM, liveFingerprint); err != nil {
		slog.Warn("extraction: failed to persist successful locator", "domain", domain, "error", err)
	}

	// Drift is only meaningful to check against a locator this request
	// reused rather than just discovered (see warnIfDrifted). It runs after
	// MarkSuccess, which clears PendingRevalidation, so a flag set here
	// survives until the next request.
	if !discoveredByLLM {
		var storedFingerprint uint64
		if sctx.Config != nil {
			storedFingerprint = sctx.Config.DOMFingerprint
		}
		e.warnIfDrifted(domain, storedFingerprint, simplified, liveFingerprint)
	}

	payload := e.render(sctx.OutputType, elementHTML, req.URL, domain)

	resp := &models.ScrapeResponse{
		Success: true,
		Method:  string(pg.method),
		XPath:   xpath,
		Payload: payload,
		DebugID: debugID,
	}

	metadata := models.MetadataPayload{
		TextLength:     details.TextContentLength,
		TokenEstimate:  cleaner.EstimateTokens(details.InnerHTMLSample),
		ParagraphCount: details.ParagraphCount,
		ElementCount:   details.ElementFoundCount,
		NavigationMs:   navMs,
		ExtractionMs:   extractMs,
		TotalMs:        time.Since(start).Milliseconds(),
		FetchMethod:    string(pg.method),
	}
	if contentText, ok := payload.(string); ok {
		metadata.TokenEstimate = cleaner.EstimateTokens(contentText)
	}

	switch {
	case sctx.OutputType == models.OutputMetadataOnly:
		resp.Payload = metadata
	case req.Debug:
		resp.Payload = map[string]interface{}{
			"content":  payload,
			"metadata": metadata,
		}
	}
	return resp
}

// obtainPage runs Fetch -> DetectChallenge -> [Solve], escalating from the
// plain Fetcher to the Browser Driver only when the cheap path fails or a
// challenge interstitial is detected.
func (e *Engine) obtainPage(ctx context.Context, sctx models.ScrapeContext) (*page, int64, error) {
	navStart := time.Now()

	// A site flagged as needing a challenge-solving setup never yields a
	// usable page to the plain Fetcher, so skip straight to the browser.
	if sctx.Config != nil && sctx.Config.NeedsFlaresolverr {
		pg, err := e.openBrowserPage(ctx, sctx)
		if err != nil {
			return nil, time.Since(navStart).Milliseconds(), err
		}
		return pg, time.Since(navStart).Milliseconds(), nil
	}

	result, fetchErr := e.fetcher.Fetch(ctx, sctx.URL, fetch.Options{
		Proxy:     sctx.ProxyURL,
		UserAgent: sctx.UserAgent,
		Headers:   headersFor(sctx),
	})

	needsBrowser := fetchErr != nil
	if result != nil {
		if result.Status >= 400 || e.analyzer.DetectChallengeMarkers(string(result.Body)) {
			needsBrowser = true
		}
	}

	if !needsBrowser {
		return &page{html: string(result.Body), method: models.MethodFetch}, time.Since(navStart).Milliseconds(), nil
	}

	pg, err := e.openBrowserPage(ctx, sctx)
	if err != nil {
		if fetchErr != nil {
			return nil, time.Since(navStart).Milliseconds(), fetchErr
		}
		return nil, time.Since(navStart).Milliseconds(), err
	}
	return pg, time.Since(navStart).Milliseconds(), nil
}

// openBrowserPage opens a fresh browser session on sctx's URL, runs the
// challenge detect/solve cycle, and captures the rendered HTML.
func (e *Engine) openBrowserPage(ctx context.Context, sctx models.ScrapeContext) (*page, error) {
	sess, err := e.browser.Open(ctx, sctx.URL, browserdriver.LoadOptions{
		ProxyURL:  sctx.ProxyURL,
		UserAgent: sctx.UserAgent,
		Headers:   headersFor(sctx),
	})
	if err != nil {
		return nil, err
	}

	detection, err := e.browser.DetectChallenge(sess)
	if err != nil {
		e.browser.Close(sess)
		return nil, err
	}

	if detection.Type != models.ChallengeNone {
		if err := e.solveChallenge(ctx, sess, sctx, detection); err != nil {
			e.browser.Close(sess)
			return nil, err
		}
	}

	html, err := e.browser.GetPageHTML(sess)
	if err != nil {
		e.browser.Close(sess)
		return nil, err
	}

	return &page{html: html, method: models.MethodBrowser, session: sess}, nil
}

func (e *Engine) solveChallenge(ctx context.Context, sess any, sctx models.ScrapeContext, detection models.ChallengeDetection) error {
	if e.cfg.Solver.APIKey == "" {
		return models.NewError(models.ErrCaptcha, "challenge detected but no solver is configured", nil)
	}

	solution, err := e.solver.Solve(ctx, solver.Request{
		ChallengeType: string(detection.Type),
		WebsiteURL:    sctx.URL,
		ChallengeURL:  detection.ChallengeURL,
		UserAgent:     sctx.UserAgent,
		ProxyURL:      sctx.ProxyURL,
	})
	if err != nil {
		return err
	}

	if err := e.browser.SetCookies(sess, solution); err != nil {
		return err
	}
	if err := e.browser.Reload(ctx, sess, "networkidle2"); err != nil {
		return err
	}

	redetect, err := e.browser.DetectChallenge(sess)
	if err != nil {
		return err
	}
	if redetect.Type != models.ChallengeNone {
		return models.NewError(models.ErrCaptcha, "challenge persists after solving", nil)
	}
	return nil
}

// locate runs Extract -> Score. An explicit xpathOverride short-circuits to
// Known with that locator and never falls through to Discovery. Otherwise,
// the stored locator is tried when its failure count is below the
// rediscovery threshold and the domain has no revalidation pending from a
// prior visit's drift check (see warnIfDrifted); a miss on that Known-path
// attempt only escalates into Discovery within the same request when
// incrementing the failure count would itself reach the rediscovery
// threshold — a single stray miss otherwise just fails with EXTRACTION.
func (e *Engine) locate(ctx context.Context, sctx models.ScrapeContext, pg *page) (string, models.ElementDetails, bool, error) {
	minScore := e.cfg.Scoring.MinXPathScoreThreshold

	if sctx.XPathOverride != "" {
		details, err := e.evaluate(pg, sctx.XPathOverride)
		if err == nil {
			score := scoring.Score(details, e.cfg.Scoring)
			if score >= minScore && details.TextContentLength >= e.cfg.Engine.MinContentLength {
				return sctx.XPathOverride, details, false, nil
			}
		}
		return "", models.ElementDetails{}, false, models.NewError(models.ErrExtraction, "xpath override matched no usable content", nil)
	}

	knownPath := sctx.Config != nil && sctx.Config.XPathMainContent != "" &&
		sctx.Config.FailureCountSinceLastSuccess < e.cfg.Store.RediscoveryThreshold &&
		!sctx.Config.PendingRevalidation

	if knownPath {
		details, err := e.evaluate(pg, sctx.Config.XPathMainContent)
		if err == nil {
			score := scoring.Score(details, e.cfg.Scoring)
			if score >= minScore && details.TextContentLength >= e.cfg.Engine.MinContentLength {
				return sctx.Config.XPathMainContent, details, false, nil
			}
		}

		reachesThreshold := sctx.Config.FailureCountSinceLastSuccess+1 >= e.cfg.Store.RediscoveryThreshold
		if !reachesThreshold {
			return "", models.ElementDetails{}, false, models.NewError(models.ErrExtraction, "known locator matched no usable content", nil)
		}
		// This miss reaches the rediscovery threshold: fall through to Discovery
		// within the same request instead of waiting for the next scrape.
	}

	return e.discover(ctx, sctx, pg, minScore)
}

// discover finds a new locator for sctx's page. Only a browser-verified
// extraction ever persists a newly discovered locator, so a page that came
// from the plain Fetcher is escalated to a live browser session first; the
// escalated session is written back into pg so the request's deferred
// cleanup owns it.
func (e *Engine) discover(ctx context.Context, sctx models.ScrapeContext, pg *page, minScore float64) (string, models.ElementDetails, bool, error) {
	if pg.session == nil {
		browserPg, err := e.openBrowserPage(ctx, sctx)
		if err != nil {
			return "", models.ElementDetails{}, false, err
		}
		*pg = *browserPg
	}

	var tried []string
	var candidates []models.ScoredCandidate

	for attempt := 0; attempt <= e.cfg.LLM.MaxRetries; attempt++ {
		suggestions := e.suggester.Suggest(ctx, pg.html, tried)
		if len(suggestions) == 0 {
			break
		}

		for _, sug := range suggestions {
			tried = append(tried, sug.XPath)
			details, err := e.evaluate(pg, sug.XPath)
			if err != nil {
				continue
			}
			score := scoring.Score(details, e.cfg.Scoring)
			candidates = append(candidates, models.ScoredCandidate{Suggestion: sug, Details: details, Score: score})
		}

		if best, ok := scoring.Best(candidates, minScore); ok {
			return best.Suggestion.XPath, best.Details, true, nil
		}
	}

	return "", models.ElementDetails{}, false, models.NewError(models.ErrExtraction, "no candidate locator scored above the acceptance threshold", nil)
}

func (e *Engine) evaluate(pg *page, xpath string) (models.ElementDetails, error) {
	if pg.session != nil {
		return e.browser.GetElementDetails(pg.session, xpath)
	}
	return e.analyzer.EvaluateXPath(pg.html, xpath)
}

// warnIfDrifted runs only after a Known-path (or xpath-override) success: it
// compares the simhash fingerprint of the extracted subtree's simplified
// structure against the one recorded at the last successful scrape. Past
// DOMComparisonThreshold Hamming distance, it logs a drift warning and flags
// the domain for full Discovery on its *next* visit (sitestore's
// PendingRevalidation) — it never diverts the request that's already
// succeeding, since the stored locator still matched usable content here.
func (e *Engine) warnIfDrifted(domain string, stored uint64, simplifiedSubtree string, live uint64) {
	if !driftedTooFar(stored, simplifiedSubtree, e.cfg.Store.DOMComparisonThreshold) {
		return
	}
	slog.Warn("extraction: known-path content has drifted past the comparison threshold, scheduling revalidation",
		"domain", domain, "distance", hammingDistance(stored, live), "threshold", e.cfg.Store.DOMComparisonThreshold)
	if err := e.store.ScheduleRevalidation(domain); err != nil {
		slog.Warn("extraction: failed to persist pending revalidation flag", "domain", domain, "error", err)
	}
}

// driftedTooFar reports whether liveHTML's fingerprint has drifted past the
// configured Hamming-distance threshold from stored. stored == 0 means no
// prior fingerprint was recorded, so there's nothing to compare against.
func driftedTooFar(stored uint64, liveHTML string, threshold int) bool {
	if stored == 0 {
		return false
	}
	live := htmlanalyzer.DOMFingerprint(liveHTML)
	return hammingDistance(stored, live) > threshold
}

// hammingDistance delegates to the simhash package's own distance function
// rather than recomputing bit-popcount locally.
func hammingDistance(a, b uint64) int {
	return simhash.Distance(a, b)
}

func headersFor(sctx models.ScrapeContext) map[string]string {
	if sctx.Config != nil {
		return sctx.Config.SiteSpecificHeaders
	}
	return nil
}

// render produces the requested OutputType from the already-extracted
// elementHTML.
func (e *Engine) render(outputType models.OutputType, elementHTML, sourceURL, domain string) interface{} {
	switch outputType {
	case models.OutputMetadataOnly:
		return nil
	case models.OutputFullHTML:
		return elementHTML
	case models.OutputCleanedHTML:
		return e.sanitizer.Sanitize(elementHTML)
	case models.OutputContentOnly:
		article, _ := cleaner.ExtractContent(elementHTML, sourceURL)
		return strings.TrimSpace(article.TextContent)
	case models.OutputMarkdown:
		fallthrough
	default:
		md, err := cleaner.ToMarkdown(e.markdownConv, elementHTML, domain)
		if err != nil {
			return elementHTML
		}
		return md
	}
}

func errorResponse(err error, debugID string) *models.ScrapeResponse {
	se := models.AsScrapeError(err)
	return &models.ScrapeResponse{
		Success: false,
		Error:   se.ToDetail(),
		DebugID: debugID,
	}
}
