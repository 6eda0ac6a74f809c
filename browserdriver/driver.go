// Package browserdriver implements the Browser Driver: managed headless
// browser sessions with a per-request ephemeral profile directory,
// extension loading, proxy authentication, page lifecycle, XPath
// evaluation against the live DOM, challenge detection, and cookie
// injection/extraction. Each session gets its own ephemeral profile
// directory rather than sharing a pooled page, and every error is bound
// to the closed ErrKind set.
package browserdriver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/htmlanalyzer"
	"github.com/use-agent/adaptext/models"
	"github.com/ysmood/gson"
)

// LoadOptions configures a single page navigation.
type LoadOptions struct {
	ProxyURL      string
	ProxyUser     string
	ProxyPass     string
	UserAgent     string
	Headers       map[string]string
	Cookies       map[string]string
	WaitCondition string // "load", "domcontentloaded", "networkidle0", "networkidle2"
}

// Session is a live browser session: one browser process, one ephemeral
// profile directory, one page. Every exit path must call Close.
type Session struct {
	id         string
	browser    *rod.Browser
	page       *rod.Page
	profileDir string
	closed     bool
	mu         sync.Mutex
}

// Driver manages a bounded set of concurrent browser sessions. Unlike a
// page pool, each checked-out Session owns its own process and profile
// directory so that a session's profile directory is
// unique and removed on every exit path, including error paths.
type Driver struct {
	cfg      config.BrowserConfig
	analyzer *htmlanalyzer.Analyzer
	tokens   chan struct{} // bounds concurrent sessions to cfg.MaxPages
	nextID   int64
	mu       sync.Mutex
}

// New creates a Driver bounded to cfg.MaxPages concurrent sessions. The
// analyzer supplies the configured challenge markers and element accounting
// used against live pages.
func New(cfg config.BrowserConfig, analyzer *htmlanalyzer.Analyzer) *Driver {
	max := cfg.MaxPages
	if max <= 0 {
		max = 10
	}
	return &Driver{
		cfg:      cfg,
		analyzer: analyzer,
		tokens:   make(chan struct{}, max),
	}
}

// Open blocks until a session slot is available (or ctx expires), launches
// a fresh headless browser with its own ephemeral profile directory and
// extensions, and navigates to url.
func (d *Driver) Open(ctx context.Context, url string, opts LoadOptions) (*Session, error) {
	select {
	case d.tokens <- struct{}{}:
	case <-ctx.Done():
		return nil, models.NewError(models.ErrTimeout, "timed out waiting for a browser session slot", ctx.Err())
	}

	sess, err := d.launchSession()
	if err != nil {
		<-d.tokens
		return nil, err
	}

	if err := d.navigate(ctx, sess, url, opts); err != nil {
		sess.Close()
		<-d.tokens
		return nil, err
	}

	return sess, nil
}

// Close tears down a session: closes the page, kills the browser process,
// and removes its ephemeral profile directory, regardless of the exit
// reason. Safe to call more than once.
func (d *Driver) Close(sess *Session) {
	sess.mu.Lock()
	wasOpen := !sess.closed
	sess.mu.Unlock()
	sess.Close()
	if !wasOpen {
		return
	}
	select {
	case <-d.tokens:
	default:
	}
}

func (d *Driver) launchSession() (*Session, error) {
	d.mu.Lock()
	d.nextID++
	id := strconv.FormatInt(d.nextID, 10)
	d.mu.Unlock()

	profileDir, err := os.MkdirTemp("", "adaptext-profile-"+id+"-")
	if err != nil {
		return nil, models.NewError(models.ErrInternal, "failed to create ephemeral profile directory", err)
	}

	l := launcher.New().
		Headless(d.cfg.Headless).
		NoSandbox(d.cfg.NoSandbox).
		UserDataDir(profileDir)

	if d.cfg.BrowserBin != "" {
		l = l.Bin(d.cfg.BrowserBin)
	}
	if d.cfg.DefaultProxy != "" {
		l = l.Proxy(d.cfg.DefaultProxy)
	}
	for _, ext := range d.cfg.ExtensionPaths {
		if ext != "" {
			l = l.Set(flags.Flag("load-extension"), ext)
		}
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		os.RemoveAll(profileDir)
		return nil, models.NewError(models.ErrInternal, "failed to launch browser", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		os.RemoveAll(profileDir)
		return nil, models.NewError(models.ErrInternal, "failed to connect to browser", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.MustClose()
		os.RemoveAll(profileDir)
		return nil, models.NewError(models.ErrInternal, "failed to create page", err)
	}

	return &Session{id: id, browser: browser, page: page, profileDir: profileDir}, nil
}

func (d *Driver) navigate(ctx context.Context, sess *Session, targetURL string, opts LoadOptions) error {
	// Stealth injection, before navigation so it applies to the page load.
	if _, err := sess.page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("browserdriver: stealth injection failed, proceeding without it", "error", err)
	}

	if opts.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}.Call(sess.page)
	}

	if len(opts.Headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{Headers: toHeadersMap(opts.Headers)}.Call(sess.page)
	}

	for name, value := range opts.Cookies {
		_, _ = proto.NetworkSetCookie{Name: name, Value: value, Path: "/"}.Call(sess.page)
	}

	if opts.ProxyUser != "" {
		go sess.browser.HandleAuth(opts.ProxyUser, opts.ProxyPass)()
	}

	if w, h, ok := parseViewport(d.cfg.Viewport); ok {
		_ = sess.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width: w, Height: h, DeviceScaleFactor: 1,
		})
	}

	navCtx := ctx
	if d.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigationTimeout)
		defer cancel()
	}
	p := sess.page.Context(navCtx)
	if err := p.Navigate(targetURL); err != nil {
		return categorizeNavError(err)
	}

	d.settle(p, opts.WaitCondition)
	return nil
}

func (d *Driver) settle(p *rod.Page, waitCondition string) {
	switch waitCondition {
	case "networkidle0":
		waitIdle := p.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
		waitIdle()
	case "networkidle2":
		waitIdle := p.WaitRequestIdle(300*time.Millisecond, nil, nil, nil)
		waitIdle()
	default: // "load", "domcontentloaded", or unset
		_ = p.WaitDOMStable(300*time.Millisecond, 0.1)
	}
	time.Sleep(d.settleDelay())
}

func (d *Driver) settleDelay() time.Duration {
	if d.cfg.SettleDelay > 0 {
		return d.cfg.SettleDelay
	}
	return 500 * time.Millisecond
}

// GetPageHTML returns the current rendered HTML of the session's page.
func (d *Driver) GetPageHTML(sess *Session) (string, error) {
	html, err := sess.page.HTML()
	if err != nil {
		return "", models.NewError(models.ErrNetwork, "failed to extract page HTML", err)
	}
	return html, nil
}

// Reload reloads the session's current page and re-settles.
func (d *Driver) Reload(ctx context.Context, sess *Session, waitCondition string) error {
	p := sess.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return categorizeNavError(err)
	}
	d.settle(p, waitCondition)
	return nil
}

// EvaluateXPath returns the outer HTML of every element matching expr, or
// (nil, false) if the expression matched nothing or is invalid.
func (d *Driver) EvaluateXPath(sess *Session, expr string) ([]string, bool) {
	res, err := sess.page.Eval(xpathEvalJS, expr)
	if err != nil {
		return nil, false
	}
	arr := res.Value.Arr()
	if len(arr) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		out = append(out, v.Str())
	}
	return out, true
}

// GetElementDetails mirrors htmlanalyzer.EvaluateXPath's accounting but
// against the live, post-JS DOM by serializing the current page HTML and
// reusing the static analyzer — this keeps both evaluators producing the
// identical ElementDetails shape the Scoring Engine depends on.
func (d *Driver) GetElementDetails(sess *Session, expr string) (models.ElementDetails, error) {
	html, err := d.GetPageHTML(sess)
	if err != nil {
		return models.ElementDetails{}, err
	}
	return d.analyzer.EvaluateXPath(html, expr)
}

// DetectChallenge inspects the live DOM for known anti-bot interstitials.
func (d *Driver) DetectChallenge(sess *Session) (models.ChallengeDetection, error) {
	html, err := d.GetPageHTML(sess)
	if err != nil {
		return models.ChallengeDetection{}, err
	}
	if !d.analyzer.DetectChallengeMarkers(html) {
		return models.ChallengeDetection{Type: models.ChallengeNone}, nil
	}

	lower := strings.ToLower(html)
	switch {
	case strings.Contains(lower, "datadome"):
		return models.ChallengeDetection{Type: models.ChallengeDataDome, ChallengeURL: extractChallengeURL(lower, "datadome")}, nil
	case strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "recaptcha"):
		return models.ChallengeDetection{Type: models.ChallengeRecaptcha}, nil
	case strings.Contains(lower, "hcaptcha"):
		return models.ChallengeDetection{Type: models.ChallengeHCaptcha}, nil
	case strings.Contains(lower, "cf-turnstile") || strings.Contains(lower, "turnstile"):
		return models.ChallengeDetection{Type: models.ChallengeTurnstile}, nil
	default:
		return models.ChallengeDetection{Type: models.ChallengeGeneric}, nil
	}
}

func extractChallengeURL(lowerHTML, marker string) string {
	idx := strings.Index(lowerHTML, marker)
	if idx < 0 {
		return ""
	}
	start := strings.LastIndex(lowerHTML[:idx], "src=\"")
	if start < 0 {
		return ""
	}
	start += len("src=\"")
	end := strings.Index(lowerHTML[start:], "\"")
	if end < 0 {
		return ""
	}
	return lowerHTML[start : start+end]
}

// GetCookies returns the session's cookies serialized as "name=value; ..." pairs.
func (d *Driver) GetCookies(sess *Session) (string, error) {
	cookies, err := sess.page.Cookies(nil)
	if err != nil {
		return "", models.NewError(models.ErrInternal, "failed to read cookies", err)
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, fmt.Sprintf("%s=%s", c.Name, c.Value))
	}
	return strings.Join(parts, "; "), nil
}

// SetCookies parses a serialized Set-Cookie-style string (used after a
// solver returns a clearance cookie) and installs it on the session.
func (d *Driver) SetCookies(sess *Session, serialized string) error {
	cookie, err := ParseSetCookie(serialized)
	if err != nil {
		return err
	}
	if _, err := cookieParams(cookie).Call(sess.page); err != nil {
		return models.NewError(models.ErrInternal, "failed to set cookie", err)
	}
	return nil
}

// cookieParams maps a parsed Cookie onto the CDP Network.setCookie payload,
// carrying every attribute ParseSetCookie understands: Domain, Path,
// Max-Age (as an absolute expiry), Secure, HttpOnly, and SameSite.
func cookieParams(cookie Cookie) proto.NetworkSetCookie {
	params := proto.NetworkSetCookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Domain:   cookie.Domain,
		Path:     cookie.Path,
		Secure:   cookie.Secure,
		HTTPOnly: cookie.HTTPOnly,
		SameSite: sameSiteParam(cookie.SameSite),
	}
	if cookie.MaxAge > 0 {
		expires := proto.TimeSinceEpoch(float64(time.Now().Unix() + cookie.MaxAge))
		params.Expires = expires
	}
	return params
}

func sameSiteParam(sameSite string) proto.NetworkCookieSameSite {
	switch strings.ToLower(sameSite) {
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "lax":
		return proto.NetworkCookieSameSiteLax
	case "none":
		return proto.NetworkCookieSameSiteNone
	default:
		return ""
	}
}

// parseViewport parses a "WIDTHxHEIGHT" string like "1920x1080".
func parseViewport(v string) (int, int, bool) {
	parts := strings.SplitN(v, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

func categorizeNavError(err error) *models.ScrapeError {
	return models.NewError(models.ErrNetwork, "browser navigation failed", err)
}

// Close closes the page, kills the browser process, and removes the
// ephemeral profile directory. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		s.browser.MustClose()
	}
	if s.profileDir != "" {
		if err := os.RemoveAll(s.profileDir); err != nil {
			slog.Warn("browserdriver: failed to remove ephemeral profile directory", "dir", s.profileDir, "error", err)
		}
	}
}

const xpathEvalJS = `(expr) => {
	const result = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < result.snapshotLength; i++) {
		out.push(result.snapshotItem(i).outerHTML);
	}
	return out;
}`
