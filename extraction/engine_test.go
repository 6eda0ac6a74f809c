package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/adaptext/browserdriver"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/fetch"
	"github.com/use-agent/adaptext/htmlanalyzer"
	"github.com/use-agent/adaptext/models"
	"github.com/use-agent/adaptext/solver"
)

// --- in-memory fakes for every Engine collaborator ---

// testAnalyzer mirrors the default-list analyzer the engine itself builds
// from testConfig(), so fake browser evaluations count tags the same way.
var testAnalyzer = htmlanalyzer.New(config.AnalyzerConfig{})

type fakeFetcher struct {
	result *fetch.Result
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, targetURL string, opts fetch.Options) (*fetch.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeBrowser struct {
	session   any
	openErr   error
	html      string
	detection models.ChallengeDetection
	openCalls int
}

func (f *fakeBrowser) Open(ctx context.Context, url string, opts browserdriver.LoadOptions) (any, error) {
	f.openCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}
func (f *fakeBrowser) Close(session any) {}
func (f *fakeBrowser) DetectChallenge(session any) (models.ChallengeDetection, error) {
	return f.detection, nil
}
func (f *fakeBrowser) SetCookies(session any, serialized string) error { return nil }
func (f *fakeBrowser) Reload(ctx context.Context, session any, waitCondition string) error {
	return nil
}
func (f *fakeBrowser) GetPageHTML(session any) (string, error) { return f.html, nil }
func (f *fakeBrowser) GetElementDetails(session any, xpath string) (models.ElementDetails, error) {
	return testAnalyzer.EvaluateXPath(f.html, xpath)
}

type fakeSolver struct{}

func (f *fakeSolver) Solve(ctx context.Context, req solver.Request) (string, error) {
	return "clearance=ok", nil
}

type fakeSuggester struct {
	suggestions []models.LlmXPathSuggestion
	calls       int
}

func (f *fakeSuggester) Suggest(ctx context.Context, rawHTML string, prevFail []string) []models.LlmXPathSuggestion {
	f.calls++
	if f.calls > 1 {
		return nil
	}
	return f.suggestions
}

type markSuccessCall struct {
	domain          string
	xpath           string
	discoveredByLLM bool
	fingerprint     uint64
}

type fakeStore struct {
	cfgs          map[string]models.SiteConfig
	failures      map[string]int
	markCalls     []markSuccessCall
	scheduleCalls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{cfgs: map[string]models.SiteConfig{}, failures: map[string]int{}}
}

func (f *fakeStore) Get(domain string) (models.SiteConfig, bool) {
	cfg, ok := f.cfgs[domain]
	return cfg, ok
}
func (f *fakeStore) IncrementFailure(domain string) (int, error) {
	f.failures[domain]++
	return f.failures[domain], nil
}
func (f *fakeStore) MarkSuccess(domain, xpath string, discoveredByLLM bool, domFingerprint uint64) error {
	f.markCalls = append(f.markCalls, markSuccessCall{domain, xpath, discoveredByLLM, domFingerprint})
	cfg := f.cfgs[domain]
	cfg.XPathMainContent = xpath
	cfg.DiscoveredByLLM = discoveredByLLM
	cfg.DOMFingerprint = domFingerprint
	cfg.PendingRevalidation = false
	f.cfgs[domain] = cfg
	return nil
}
func (f *fakeStore) ScheduleRevalidation(domain string) error {
	f.scheduleCalls = append(f.scheduleCalls, domain)
	cfg, ok := f.cfgs[domain]
	if !ok {
		return nil
	}
	cfg.PendingRevalidation = true
	f.cfgs[domain] = cfg
	return nil
}

// --- shared test fixtures ---

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		MinParagraphThreshold:  3,
		WSingle:                20,
		WParagraph:             2,
		WText:                  30,
		WLink:                  -40,
		WSemantic:              15,
		WIDBonus:               50,
		WClassBonus:            40,
		WClassContent:          20,
		WShallow:               -30,
		WDepthBonus:            1,
		WMedia:                 5,
		WUnwanted:              -10,
		MinDepthForShallow:     3,
		DescriptiveKeywords:    []string{"content", "article", "body", "story", "post", "entry", "main"},
		MinXPathScoreThreshold: 40,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Scoring: testScoringConfig(),
		Store:   config.StoreConfig{RediscoveryThreshold: 2, DOMComparisonThreshold: 8},
		LLM:     config.LLMConfig{MaxRetries: 1},
		Engine:  config.EngineConfig{DefaultUserAgent: "test-agent"},
		Solver:  config.SolverConfig{},
	}
}

const richArticleHTML = `<html><body><article id="content">` +
	`<p>Para one carries enough substantial text to clear the scoring thresholds comfortably for this fixture.</p>` +
	`<p>Para two adds more content so the paragraph count and text density both come out well above the floor.</p>` +
	`<p>Para three rounds things out, keeping this a realistic multi-paragraph article body for the test.</p>` +
	`</article></body></html>`

func newTestEngine(cfg *config.Config, store SiteStore, fetcher Fetcher, browser BrowserDriver, sv SolverClient, sg Suggester) *Engine {
	return newEngine(cfg, store, fetcher, browser, sv, sg)
}

// --- tests ---

func TestScrape_InvalidURLReturnsConfigurationError(t *testing.T) {
	eng := newTestEngine(testConfig(), newFakeStore(), &fakeFetcher{}, &fakeBrowser{}, &fakeSolver{}, &fakeSuggester{})

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "not a url"})

	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(models.ErrConfiguration), resp.Error.Code)
}

func TestScrape_KnownPathSucceedsOverFetchWithoutTouchingSuggester(t *testing.T) {
	store := newFakeStore()
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:    "example.com",
		XPathMainContent: "//article[@id='content']",
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}
	browser := &fakeBrowser{}
	suggester := &fakeSuggester{}

	eng := newTestEngine(testConfig(), store, fetcher, browser, &fakeSolver{}, suggester)

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success)
	assert.Equal(t, "//article[@id='content']", resp.XPath)
	assert.Equal(t, string(models.MethodFetch), resp.Method)
	assert.Equal(t, 0, suggester.calls, "known-path success must skip the LLM call entirely")
	assert.Equal(t, 0, browser.openCalls, "a usable fetch-path result must never escalate to the browser")
	require.Len(t, store.markCalls, 1)
	assert.False(t, store.markCalls[0].discoveredByLLM)
}

func TestScrape_FetchFailureEscalatesToBrowser(t *testing.T) {
	store := newFakeStore()
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:    "example.com",
		XPathMainContent: "//article[@id='content']",
	}
	fetcher := &fakeFetcher{err: models.NewError(models.ErrNetwork, "connection reset", nil)}
	browser := &fakeBrowser{session: "fake-session-handle", html: richArticleHTML, detection: models.ChallengeDetection{Type: models.ChallengeNone}}

	eng := newTestEngine(testConfig(), store, fetcher, browser, &fakeSolver{}, &fakeSuggester{})

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success)
	assert.Equal(t, string(models.MethodBrowser), resp.Method)
	assert.Equal(t, 1, browser.openCalls)
}

func TestScrape_DiscoveryUsesSuggesterWhenNoStoredLocator(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}
	browser := &fakeBrowser{session: "fake-session-handle", html: richArticleHTML, detection: models.ChallengeDetection{Type: models.ChallengeNone}}
	suggester := &fakeSuggester{suggestions: []models.LlmXPathSuggestion{
		{XPath: "//article[@id='content']", Explanation: "looks like the main content region"},
	}}

	eng := newTestEngine(testConfig(), store, fetcher, browser, &fakeSolver{}, suggester)

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success)
	assert.Equal(t, "//article[@id='content']", resp.XPath)
	assert.Equal(t, 1, browser.openCalls, "a newly discovered locator must be verified in the browser before it persists")
	require.Len(t, store.markCalls, 1)
	assert.True(t, store.markCalls[0].discoveredByLLM)
}

func TestScrape_KnownPathDriftSchedulesNextRequestRevalidationWithoutFailingThisOne(t *testing.T) {
	store := newFakeStore()
	staleFingerprint := htmlanalyzer.DOMFingerprint(htmlanalyzer.SimplifyDom(
		`<section><h1>totally different layout now</h1></section>`, simplifyMaxTextLen, simplifyMinAnnotateSize))
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:    "example.com",
		XPathMainContent: "//article[@id='content']",
		DOMFingerprint:   staleFingerprint,
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}

	cfg := testConfig()
	cfg.Store.DOMComparisonThreshold = 0 // force any structural difference to count as drift

	eng := newTestEngine(cfg, store, fetcher, &fakeBrowser{}, &fakeSolver{}, &fakeSuggester{})

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success, "a drifted-but-still-matching known locator must not fail the current request")
	assert.Equal(t, []string{"example.com"}, store.scheduleCalls)
	require.Len(t, store.markCalls, 1)
	assert.True(t, store.cfgs["example.com"].PendingRevalidation, "the drift flag survives this request's MarkSuccess so the next visit runs Discovery")
}

func TestScrape_NeedsFlaresolverrSkipsFetcherEntirely(t *testing.T) {
	store := newFakeStore()
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:     "example.com",
		XPathMainContent:  "//article[@id='content']",
		NeedsFlaresolverr: true,
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}
	browser := &fakeBrowser{session: "fake-session-handle", html: richArticleHTML, detection: models.ChallengeDetection{Type: models.ChallengeNone}}

	eng := newTestEngine(testConfig(), store, fetcher, browser, &fakeSolver{}, &fakeSuggester{})

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success)
	assert.Equal(t, 0, fetcher.calls)
	assert.Equal(t, 1, browser.openCalls)
	assert.Equal(t, string(models.MethodBrowser), resp.Method)
}

func TestScrape_KnownPathBelowContentLengthFloorFails(t *testing.T) {
	store := newFakeStore()
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:    "example.com",
		XPathMainContent: "//article[@id='content']",
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}

	cfg := testConfig()
	cfg.Engine.MinContentLength = 100000 // far above the fixture's text length

	eng := newTestEngine(cfg, store, fetcher, &fakeBrowser{}, &fakeSolver{}, &fakeSuggester{})

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.False(t, resp.Success)
	assert.Equal(t, string(models.ErrExtraction), resp.Error.Code)
	assert.Equal(t, 1, store.failures["example.com"])
}

func TestScrape_PendingRevalidationForcesDiscoveryInsteadOfKnownPath(t *testing.T) {
	store := newFakeStore()
	store.cfgs["example.com"] = models.SiteConfig{
		DomainPattern:       "example.com",
		XPathMainContent:    "//div[@id='stale-locator-that-matches-nothing']",
		PendingRevalidation: true,
	}
	fetcher := &fakeFetcher{result: &fetch.Result{Status: 200, Body: []byte(richArticleHTML)}}
	browser := &fakeBrowser{session: "fake-session-handle", html: richArticleHTML, detection: models.ChallengeDetection{Type: models.ChallengeNone}}
	suggester := &fakeSuggester{suggestions: []models.LlmXPathSuggestion{
		{XPath: "//article[@id='content']", Explanation: "main content"},
	}}

	eng := newTestEngine(testConfig(), store, fetcher, browser, &fakeSolver{}, suggester)

	resp := eng.Scrape(context.Background(), models.ScrapeRequest{URL: "https://example.com/story"})

	require.True(t, resp.Success)
	assert.Equal(t, 1, suggester.calls, "a pending revalidation flag must force Discovery even though a locator is stored")
	assert.Equal(t, "//article[@id='content']", resp.XPath)
}
