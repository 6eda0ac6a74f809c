package extraction

import (
	"context"

	"github.com/use-agent/adaptext/browserdriver"
	"github.com/use-agent/adaptext/fetch"
	"github.com/use-agent/adaptext/models"
	"github.com/use-agent/adaptext/solver"
)

// Fetcher is the operation contract the Extraction Engine depends on for the
// cheap-GET path. *fetch.Fetcher satisfies this directly.
type Fetcher interface {
	Fetch(ctx context.Context, targetURL string, opts fetch.Options) (*fetch.Result, error)
}

// BrowserDriver is the operation contract for managed headless-browser
// sessions. Sessions cross this boundary as opaque handles (any) rather than
// *browserdriver.Session so a fake implementation never needs to construct a
// real one; browserDriverAdapter is what lets *browserdriver.Driver satisfy
// this interface.
type BrowserDriver interface {
	Open(ctx context.Context, url string, opts browserdriver.LoadOptions) (any, error)
	Close(session any)
	DetectChallenge(session any) (models.ChallengeDetection, error)
	SetCookies(session any, serialized string) error
	Reload(ctx context.Context, session any, waitCondition string) error
	GetPageHTML(session any) (string, error)
	GetElementDetails(session any, xpath string) (models.ElementDetails, error)
}

// SolverClient is the operation contract for the Challenge Solver Client.
// *solver.Client satisfies this directly.
type SolverClient interface {
	Solve(ctx context.Context, req solver.Request) (string, error)
}

// Suggester is the operation contract for the LLM Suggester.
// *llmsuggester.Suggester satisfies this directly.
type Suggester interface {
	Suggest(ctx context.Context, rawHTML string, prevFail []string) []models.LlmXPathSuggestion
}

// SiteStore is the operation contract for the Site Config Store.
// *sitestore.Store satisfies this directly.
type SiteStore interface {
	Get(domain string) (models.SiteConfig, bool)
	IncrementFailure(domain string) (int, error)
	MarkSuccess(domain, xpath string, discoveredByLLM bool, domFingerprint uint64) error
	ScheduleRevalidation(domain string) error
}

// browserDriverAdapter adapts *browserdriver.Driver's concrete *Session
// handles to BrowserDriver's opaque any-typed contract, so the real driver
// can be wired into an Engine without the engine importing its concrete
// session type anywhere else.
type browserDriverAdapter struct {
	driver *browserdriver.Driver
}

func (a *browserDriverAdapter) Open(ctx context.Context, url string, opts browserdriver.LoadOptions) (any, error) {
	return a.driver.Open(ctx, url, opts)
}

func (a *browserDriverAdapter) Close(session any) {
	sess, ok := session.(*browserdriver.Session)
	if !ok {
		return
	}
	a.driver.Close(sess)
}

func (a *browserDriverAdapter) DetectChallenge(session any) (models.ChallengeDetection, error) {
	return a.driver.DetectChallenge(session.(*browserdriver.Session))
}

func (a *browserDriverAdapter) SetCookies(session any, serialized string) error {
	return a.driver.SetCookies(session.(*browserdriver.Session), serialized)
}

func (a *browserDriverAdapter) Reload(ctx context.Context, session any, waitCondition string) error {
	return a.driver.Reload(ctx, session.(*browserdriver.Session), waitCondition)
}

func (a *browserDriverAdapter) GetPageHTML(session any) (string, error) {
	return a.driver.GetPageHTML(session.(*browserdriver.Session))
}

func (a *browserDriverAdapter) GetElementDetails(session any, xpath string) (models.ElementDetails, error) {
	return a.driver.GetElementDetails(session.(*browserdriver.Session), xpath)
}
