// Package scoring implements the Scoring Engine: it ranks an ElementDetails
// candidate into a single real-valued score, or returns NegInf to signal a
// hard rejection. The weighted-additive shape scores the signals and
// weights the locator-discovery pipeline produces.
package scoring

import (
	"math"
	"strings"

	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/models"
)

// NegInf signals a hard rejection: the candidate must never be selected.
var NegInf = math.Inf(-1)

// Score computes the additive score for details per the configured weights.
// Hard rejections (zero matches, too few paragraphs) return NegInf.
func Score(details models.ElementDetails, cfg config.ScoringConfig) float64 {
	if details.ElementFoundCount == 0 {
		return NegInf
	}
	if details.ParagraphCount < cfg.MinParagraphThreshold {
		return NegInf
	}

	var score float64

	// Uniqueness.
	if details.ElementFoundCount == 1 {
		score += cfg.WSingle
	} else {
		score -= math.Abs(cfg.WSingle) * float64(details.ElementFoundCount-1)
	}

	// Paragraph density.
	score += cfg.WParagraph * float64(details.ParagraphCount)

	// Text density.
	score += cfg.WText * (float64(details.TextContentLength) / 1000.0)

	// Link density penalty.
	if details.LinkCount > 5 && details.TextContentLength > 0 {
		linkDensity := float64(details.LinkCount) / float64(details.TextContentLength)
		if linkDensity > 0.10 {
			score += linkDensity * cfg.WLink * (float64(details.LinkCount) / 10.0)
		}
	}

	// Semantic tag bonus.
	switch details.TagName {
	case "article", "main", "section":
		score += cfg.WSemantic
	}

	// Descriptive id/class bonus.
	id := strings.ToLower(details.ID)
	class := strings.ToLower(details.ClassName)
	if containsAny(id, cfg.DescriptiveKeywords) {
		score += cfg.WIDBonus
	}
	if containsAny(class, cfg.DescriptiveKeywords) {
		score += cfg.WClassBonus
		if strings.Contains(class, "content") {
			score += cfg.WClassContent
		}
	}

	// Depth.
	depth := strings.Count(details.XPath, "/")
	if depth < cfg.MinDepthForShallow {
		score += cfg.WShallow
	} else {
		score += float64(depth) * cfg.WDepthBonus
	}

	// Media bonus.
	mediaCount := details.ImageCount + details.VideoCount
	if mediaCount > 5 {
		mediaCount = 5
	}
	score += cfg.WMedia * float64(mediaCount)

	// Unwanted-tag penalty.
	score += float64(details.UnwantedTagCount) * cfg.WUnwanted

	return math.Max(0, score)
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Best selects the highest-scoring candidate meeting minScore, breaking ties
// by: greater text-content length, then shallower XPath depth, then first
// in input order (LLM suggestion order).
func Best(candidates []models.ScoredCandidate, minScore float64) (models.ScoredCandidate, bool) {
	var best models.ScoredCandidate
	found := false

	for _, c := range candidates {
		if c.Score == NegInf || c.Score < minScore {
			continue
		}
		if !found {
			best = c
			found = true
			continue
		}
		if c.Score > best.Score {
			best = c
			continue
		}
		if c.Score == best.Score {
			if c.Details.TextContentLength > best.Details.TextContentLength {
				best = c
				continue
			}
			if c.Details.TextContentLength == best.Details.TextContentLength {
				cDepth := strings.Count(c.Details.XPath, "/")
				bestDepth := strings.Count(best.Details.XPath, "/")
				if cDepth < bestDepth {
					best = c
				}
			}
		}
	}

	return best, found
}
