package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

func gateConfig() config.DecisionConfig {
	return config.DecisionConfig{
		DominanceRatio:      2.0,
		ConfidenceThreshold: 70,
		TopK:                5,
		HistoryWindow:       10,
	}
}

func candidate(selector, text string, score float64) schemas.ActionCandidate {
	return schemas.ActionCandidate{
		Selector:      selector,
		Type:          schemas.ActionClick,
		PriorityScore: score,
		Element: schemas.ElementDescriptor{
			Selector:  selector,
			Tag:       "button",
			Text:      text,
			IsVisible: true,
		},
	}
}

func TestRuleNoActionsBacktracks(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())

	d := h.Analyze(nil, schemas.CoverageContext{})
	assert.Equal(t, schemas.DecisionBacktrack, d.Type)
	assert.Equal(t, 100, d.Confidence)
	assert.Equal(t, RuleNoActions, d.Rule)
}

func TestRuleSingleActionFullConfidence(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())
	only := candidate("#link", "Docs", 0.6)

	d := h.Analyze([]schemas.ActionCandidate{only}, schemas.CoverageContext{})
	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, 100, d.Confidence)
	assert.Equal(t, RuleSingleAction, d.Rule)
	require.NotNil(t, d.Candidate)
	assert.Equal(t, "#link", d.Candidate.Selector)
}

func TestRuleDominantScore(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())
	cands := []schemas.ActionCandidate{
		candidate("#strong", "View report", 0.9),
		candidate("#weak", "Other", 0.3),
	}

	d := h.Analyze(cands, schemas.CoverageContext{})
	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, RuleDominantScore, d.Rule)
	assert.Equal(t, "#strong", d.Candidate.Selector)
}

func TestRuleCTAMatch(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())
	cands := []schemas.ActionCandidate{
		candidate("#signup", "Sign up now", 0.55),
		candidate("#other", "Details", 0.50),
	}

	d := h.Analyze(cands, schemas.CoverageContext{})
	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, RuleCTAMatch, d.Rule)
	assert.GreaterOrEqual(t, d.Confidence, 70)
}

func TestRuleNovelURL(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())
	fresh := candidate("#fresh", "Page two", 0.55)
	fresh.Element.Tag = "a"
	fresh.Element.Href = "https://example.com/two"
	cands := []schemas.ActionCandidate{
		fresh,
		candidate("#dull", "Page one", 0.50),
	}

	d := h.Analyze(cands, schemas.CoverageContext{
		VisitedURLs: map[string]bool{"https://example.com/one": true},
	})
	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, RuleNovelURL, d.Rule)
}

func TestUncertainEscalates(t *testing.T) {
	h := NewHeuristicAnalyzer(gateConfig(), zap.NewNop())
	visited := candidate("#a", "Alpha", 0.52)
	visited.Element.Href = "https://example.com/seen"
	cands := []schemas.ActionCandidate{
		visited,
		candidate("#b", "Beta", 0.50),
	}

	d := h.Analyze(cands, schemas.CoverageContext{
		VisitedURLs: map[string]bool{"https://example.com/seen": true},
	})
	assert.Equal(t, schemas.DecisionUncertain, d.Type)
	assert.Equal(t, RuleUncertain, d.Rule)
}
