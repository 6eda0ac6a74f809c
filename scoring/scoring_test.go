package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/adaptext/config"
	"github.com/use-agent/adaptext/models"
)

func defaultWeights() config.ScoringConfig {
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

func TestScore_HardRejectOnZeroMatches(t *testing.T) {
	details := models.ElementDetails{ElementFoundCount: 0, ParagraphCount: 10}
	assert.Equal(t, NegInf, Score(details, defaultWeights()))
}

func TestScore_HardRejectBelowParagraphThreshold(t *testing.T) {
	details := models.ElementDetails{ElementFoundCount: 1, ParagraphCount: 2}
	assert.Equal(t, NegInf, Score(details, defaultWeights()))
}

func TestScore_UniqueMatchScoresHigherByTwiceWSingle(t *testing.T) {
	cfg := defaultWeights()
	base := models.ElementDetails{
		ParagraphCount:    5,
		TextContentLength: 1000,
		XPath:             "/html/body/article",
	}

	single := base
	single.ElementFoundCount = 1
	double := base
	double.ElementFoundCount = 2

	singleScore := Score(single, cfg)
	doubleScore := Score(double, cfg)

	assert.InDelta(t, cfg.WSingle+math.Abs(cfg.WSingle), singleScore-doubleScore, 1e-9)
}

func TestScore_NeverNegativeUnlessRejected(t *testing.T) {
	cfg := defaultWeights()
	details := models.ElementDetails{
		ElementFoundCount: 5,
		ParagraphCount:    3,
		LinkCount:         50,
		TextContentLength: 100,
		UnwantedTagCount:  20,
	}
	score := Score(details, cfg)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestScore_SemanticTagAndDescriptiveClassBonuses(t *testing.T) {
	cfg := defaultWeights()
	plain := models.ElementDetails{
		ElementFoundCount: 1, ParagraphCount: 5, TextContentLength: 500,
		TagName: "div", XPath: "/html/body/div",
	}
	semantic := plain
	semantic.TagName = "article"
	semantic.ClassName = "article-content"

	assert.Greater(t, Score(semantic, cfg), Score(plain, cfg))
}

func TestScore_ShallowPenaltyBelowMinDepth(t *testing.T) {
	cfg := defaultWeights()
	shallow := models.ElementDetails{
		ElementFoundCount: 1, ParagraphCount: 5, TextContentLength: 500,
		XPath: "/html",
	}
	deep := shallow
	deep.XPath = "/html/body/div/div/article"

	assert.Less(t, Score(shallow, cfg), Score(deep, cfg))
}

func TestBest_SkipsRejectedAndBelowThreshold(t *testing.T) {
	candidates := []models.ScoredCandidate{
		{Suggestion: models.LlmXPathSuggestion{XPath: "a"}, Score: NegInf},
		{Suggestion: models.LlmXPathSuggestion{XPath: "b"}, Score: 10},
		{Suggestion: models.LlmXPathSuggestion{XPath: "c"}, Score: 87},
	}
	best, ok := Best(candidates, 40)
	assert.True(t, ok)
	assert.Equal(t, "c", best.Suggestion.XPath)
}

func TestBest_NoneAboveThreshold(t *testing.T) {
	candidates := []models.ScoredCandidate{
		{Suggestion: models.LlmXPathSuggestion{XPath: "a"}, Score: 10},
	}
	_, ok := Best(candidates, 40)
	assert.False(t, ok)
}

func TestBest_TieBreaksOnTextLengthThenDepth(t *testing.T) {
	candidates := []models.ScoredCandidate{
		{
			Suggestion: models.LlmXPathSuggestion{XPath: "shallow"},
			Score:      80,
			Details:    models.ElementDetails{TextContentLength: 2000, XPath: "/html/body/article"},
		},
		{
			Suggestion: models.LlmXPathSuggestion{XPath: "longer-text"},
			Score:      80,
			Details:    models.ElementDetails{TextContentLength: 3000, XPath: "/html/body/div/div/div/article"},
		},
	}
	best, ok := Best(candidates, 40)
	assert.True(t, ok)
	assert.Equal(t, "longer-text", best.Suggestion.XPath)
}
