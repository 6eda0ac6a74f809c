// Package htmlanalyzer implements the pure, side-effect-free HTML operations
// the Extraction Engine needs against a static document: snippet extraction
// for LLM prompting, challenge-marker detection, XPath evaluation with
// element-details accounting, and DOM simplification. Selector lists,
// keyword lists, and challenge markers are configuration, not code paths:
// an Analyzer precompiles them once at construction.
package htmlanalyzer

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/models"
	"github.com/use-agent/adaptext/simhash"
	"golang.org/x/net/html"
)

const minSnippetLen = 50

// Defaults applied by New when the corresponding AnalyzerConfig field is
// empty, mirroring config.Load's own env-var fallbacks.
var (
	defaultSnippetSelectors     = []string{"p", "article", "main", "section", "div"}
	defaultContentClassKeywords = []string{"content", "article", "body", "story", "post", "entry", "main", "text"}
	defaultUnwantedTags         = []string{"nav", "footer", "aside", "header", "form", "script", "style", "figcaption", "figure", "details", "summary", "menu", "dialog"}
	defaultChallengeTextPattern = `(?i)(captcha|verify you are human|recaptcha|hcaptcha|turnstile|cloudflare|datadome|checking your browser|access denied)`
	defaultChallengeSelectors   = []string{
		`iframe[src*="captcha-delivery.com"]`,
		`.g-recaptcha`,
		`.cf-turnstile`,
		`[id*="captcha"]`,
		`[class*="captcha"]`,
		`iframe[src*="hcaptcha.com"]`,
	}
)

// Analyzer holds the precompiled selector lists, keyword lists, and
// challenge markers the per-document operations run against.
type Analyzer struct {
	snippetSelectors   []string
	contentKeywords    []string
	unwantedTags       map[string]struct{}
	challengeText      *regexp.Regexp
	challengeSelectors []cascadia.Selector
}

// New precompiles cfg's lists into an Analyzer. Empty fields fall back to
// the built-in defaults. An unparsable text pattern reverts to the default
// pattern; individually invalid selectors are dropped. Both are logged, not
// fatal.
func New(cfg config.AnalyzerConfig) *Analyzer {
	snippetSelectors := cfg.SnippetSelectors
	if len(snippetSelectors) == 0 {
		snippetSelectors = defaultSnippetSelectors
	}
	contentKeywords := cfg.ContentClassKeywords
	if len(contentKeywords) == 0 {
		contentKeywords = defaultContentClassKeywords
	}
	unwantedList := cfg.UnwantedTags
	if len(unwantedList) == 0 {
		unwantedList = defaultUnwantedTags
	}
	unwanted := make(map[string]struct{}, len(unwantedList))
	for _, tag := range unwantedList {
		unwanted[strings.ToLower(tag)] = struct{}{}
	}

	pattern := cfg.ChallengeTextPattern
	if pattern == "" {
		pattern = defaultChallengeTextPattern
	}
	challengeText, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("htmlanalyzer: invalid challenge text pattern, using default", "pattern", pattern, "error", err)
		challengeText = regexp.MustCompile(defaultChallengeTextPattern)
	}

	selectorStrings := cfg.ChallengeSelectors
	if len(selectorStrings) == 0 {
		selectorStrings = defaultChallengeSelectors
	}
	selectors := make([]cascadia.Selector, 0, len(selectorStrings))
	for _, s := range selectorStrings {
		sel, err := cascadia.Compile(s)
		if err != nil {
			slog.Warn("htmlanalyzer: invalid challenge selector, skipping", "selector", s, "error", err)
			continue
		}
		selectors = append(selectors, sel)
	}

	return &Analyzer{
		snippetSelectors:   snippetSelectors,
		contentKeywords:    contentKeywords,
		unwantedTags:       unwanted,
		challengeText:      challengeText,
		challengeSelectors: selectors,
	}
}

// ExtractSnippets parses html, gathers trimmed text from content-bearing
// elements, and returns up to maxSnippets strings each truncated to
// snippetMaxLen. Malformed HTML yields an empty slice rather than an error.
func (a *Analyzer) ExtractSnippets(rawHTML string, maxSnippets, snippetMaxLen int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	var snippets []string
	seen := make(map[string]struct{})

	for _, sel := range a.snippetSelectors {
		if len(snippets) >= maxSnippets {
			break
		}
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if len(snippets) >= maxSnippets {
				return false
			}
			if sel == "div" && !a.hasContentishClass(s) {
				return true
			}
			text := strings.TrimSpace(s.Text())
			if len(text) < minSnippetLen {
				return true
			}
			if len(text) > snippetMaxLen {
				text = text[:snippetMaxLen]
			}
			if _, dup := seen[text]; dup {
				return true
			}
			seen[text] = struct{}{}
			snippets = append(snippets, text)
			return true
		})
	}
	return snippets
}

func (a *Analyzer) hasContentishClass(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	class = strings.ToLower(class)
	for _, kw := range a.contentKeywords {
		if strings.Contains(class, kw) {
			return true
		}
	}
	return false
}

// DetectChallengeMarkers reports whether rawHTML contains text or DOM
// markers of a known anti-bot interstitial.
func (a *Analyzer) DetectChallengeMarkers(rawHTML string) bool {
	if a.challengeText.MatchString(rawHTML) {
		return true
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return false
	}
	for _, sel := range a.challengeSelectors {
		if len(cascadia.QueryAll(doc, sel)) > 0 {
			return true
		}
	}
	return false
}

// EvaluateXPath evaluates expr against rawHTML and returns element-details
// accounting for the match set. Zero matches yields a zeroed record, not an
// error; a malformed expression returns an error.
func (a *Analyzer) EvaluateXPath(rawHTML, expr string) (models.ElementDetails, error) {
	doc, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return models.ElementDetails{}, fmt.Errorf("htmlanalyzer: parse html: %w", err)
	}
	if _, compileErr := xpath.Compile(expr); compileErr != nil {
		return models.ElementDetails{}, fmt.Errorf("htmlanalyzer: compile xpath %q: %w", expr, compileErr)
	}

	matches, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return models.ElementDetails{}, fmt.Errorf("htmlanalyzer: evaluate xpath %q: %w", expr, err)
	}

	details := models.ElementDetails{
		XPath:             expr,
		ElementFoundCount: len(matches),
	}
	if len(matches) == 0 {
		return details, nil
	}

	first := matches[0]
	details.TagName = first.Data
	details.ID = htmlquery.SelectAttr(first, "id")
	details.ClassName = htmlquery.SelectAttr(first, "class")

	var textLen, paragraphs, links, images, videos, audios, pictures, unwanted, descendants int
	for _, m := range matches {
		text := strings.TrimSpace(htmlquery.InnerText(m))
		textLen += len(text)
		a.walk(m, &paragraphs, &links, &images, &videos, &audios, &pictures, &unwanted, &descendants)
	}

	details.TextContentLength = textLen
	details.ParagraphCount = paragraphs
	details.LinkCount = links
	details.ImageCount = images
	details.VideoCount = videos
	details.AudioCount = audios
	details.PictureCount = pictures
	details.UnwantedTagCount = unwanted
	details.DescendantCount = descendants

	sample := htmlquery.OutputHTML(first, true)
	if len(sample) > 500 {
		sample = sample[:500]
	}
	details.InnerHTMLSample = sample

	return details, nil
}

// ExtractElementHTML evaluates expr against rawHTML and returns the
// concatenated outer HTML of every match, untruncated — unlike the sample
// carried on ElementDetails, this is what the output pipeline renders.
func ExtractElementHTML(rawHTML, expr string) (string, error) {
	doc, err := htmlquery.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("htmlanalyzer: parse html: %w", err)
	}
	matches, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return "", fmt.Errorf("htmlanalyzer: evaluate xpath %q: %w", expr, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("htmlanalyzer: xpath %q matched nothing", expr)
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(htmlquery.OutputHTML(m, true))
	}
	return b.String(), nil
}

func (a *Analyzer) walk(n *html.Node, paragraphs, links, images, videos, audios, pictures, unwanted, descendants *int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			*descendants++
			switch c.Data {
			case "p":
				*paragraphs++
			case "a":
				*links++
			case "img":
				*images++
			case "video":
				*videos++
			case "audio":
				*audios++
			case "picture":
				*pictures++
			}
			if _, ok := a.unwantedTags[c.Data]; ok {
				*unwanted++
			}
		}
		a.walk(c, paragraphs, links, images, videos, audios, pictures, unwanted, descendants)
	}
}

// SimplifyDom produces a reduced serialization of rawHTML: noise elements
// and comments removed, long text nodes truncated, and content-bearing
// elements annotated with size hints for the LLM Suggester. On parse
// failure it falls back to the first 100,000 characters of the input.
func SimplifyDom(rawHTML string, maxTextLen, minAnnotateSize int) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		if len(rawHTML) > 100000 {
			return rawHTML[:100000]
		}
		return rawHTML
	}

	stripNoise(doc)
	annotate(doc, maxTextLen, minAnnotateSize)

	var buf strings.Builder
	_ = html.Render(&buf, doc)
	out := buf.String()
	if len(out) > 100000 {
		out = out[:100000]
	}
	return out
}

var noiseTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "meta": {}, "link": {},
	"head": {}, "svg": {}, "path": {}, "iframe": {},
}

func stripNoise(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			continue
		}
		if c.Type == html.ElementNode {
			if _, ok := noiseTags[c.Data]; ok {
				n.RemoveChild(c)
				continue
			}
		}
		stripNoise(c)
	}
}

// annotate returns the aggregated trimmed text length and descendant <p>
// count under n, tagging each element whose text exceeds minAnnotateSize.
func annotate(n *html.Node, maxTextLen, minAnnotateSize int) (int, int) {
	total := 0
	paragraphCount := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			if len(c.Data) > maxTextLen {
				c.Data = c.Data[:maxTextLen]
			}
			total += len(strings.TrimSpace(c.Data))
			continue
		}
		if c.Type == html.ElementNode {
			if c.Data == "p" {
				paragraphCount++
			}
			childLen, childParagraphs := annotate(c, maxTextLen, minAnnotateSize)
			total += childLen
			paragraphCount += childParagraphs
		}
	}

	if n.Type == html.ElementNode && total > minAnnotateSize {
		n.Attr = append(n.Attr, html.Attribute{Key: "data-original-text-length", Val: fmt.Sprintf("%d", total)})
		if paragraphCount > 0 {
			n.Attr = append(n.Attr, html.Attribute{Key: "data-paragraph-count", Val: fmt.Sprintf("%d", paragraphCount)})
		}
	}
	return total, paragraphCount
}

// ChallengeURLInspection is the result of InspectChallengeURL.
type ChallengeURLInspection struct {
	Banned bool
	Reason string
}

// InspectChallengeURL classifies a known challenge URL. A "t=bv" query
// parameter indicates a banned source IP; a "cid" containing "block" is
// also treated as banned. Missing parameters are inconclusive (not banned).
func InspectChallengeURL(rawURL string) ChallengeURLInspection {
	idx := strings.Index(rawURL, "?")
	var query string
	if idx >= 0 {
		query = rawURL[idx+1:]
	}

	params := make(map[string]string)
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			params[kv[0]] = kv[1]
		}
	}

	if params["t"] == "bv" {
		return ChallengeURLInspection{Banned: true, Reason: "t=bv indicates banned source IP"}
	}
	if strings.Contains(strings.ToLower(params["cid"]), "block") {
		return ChallengeURLInspection{Banned: true, Reason: "cid contains block marker"}
	}
	return ChallengeURLInspection{Banned: false, Reason: "inconclusive"}
}

// DOMFingerprint computes a simhash fingerprint over rawHTML's tag
// structure, used by the Extraction Engine to detect structural drift
// between visits, resolving DOM_COMPARISON_THRESHOLD.
func DOMFingerprint(rawHTML string) uint64 {
	return simhash.FingerprintDOM(rawHTML)
}
