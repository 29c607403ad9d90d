// File: internal/decision/heuristic.go
// HeuristicAnalyzer is the cheap tier of the decision gate. It resolves
// obvious choices locally; only an uncertain verdict escalates to the
// LLM-backed engine.
package decision

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

// Rule names reported in Decision.Rule so gate behavior stays observable.
const (
	RuleNoActions     = "no_actions"
	RuleSingleAction  = "single_action"
	RuleDominantScore = "dominant_score"
	RuleCTAMatch      = "cta_match"
	RuleNovelURL      = "novel_url"
	RuleUncertain     = "uncertain"
)

// ctaPhrases mirrors the selector's call-to-action vocabulary for the
// confidence boost in rule four.
var ctaPhrases = []string{
	"sign up", "signup", "register", "subscribe", "checkout", "buy",
	"purchase", "add to cart", "get started", "create account", "continue",
	"submit", "log in", "login", "next",
}

// HeuristicAnalyzer evaluates the ordered rule set against pre-ranked
// candidates. It performs no I/O and never fails.
type HeuristicAnalyzer struct {
	cfg config.DecisionConfig
	log *zap.Logger
}

// NewHeuristicAnalyzer creates the cheap decision tier.
func NewHeuristicAnalyzer(cfg config.DecisionConfig, logger *zap.Logger) *HeuristicAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicAnalyzer{
		cfg: cfg,
		log: logger.Named("HeuristicAnalyzer"),
	}
}

// Analyze runs the rules in order and short-circuits at the first confident
// result. Candidates must arrive ranked by priority, highest first.
func (h *HeuristicAnalyzer) Analyze(candidates []schemas.ActionCandidate, covCtx schemas.CoverageContext) schemas.Decision {
	// Rule 1: nothing left to try here.
	if len(candidates) == 0 {
		return schemas.Decision{
			Type:       schemas.DecisionBacktrack,
			Confidence: 100,
			Rule:       RuleNoActions,
			Rationale:  "no pending actions at this state",
		}
	}

	top := candidates[0]

	// Rule 2: a forced move.
	if len(candidates) == 1 {
		return schemas.Decision{
			Type:       schemas.DecisionSelectAction,
			Confidence: 100,
			Rule:       RuleSingleAction,
			Candidate:  &top,
			Rationale:  "only one pending action",
		}
	}

	// Rule 3: the top score dominates the runner-up by the configured ratio.
	ratio := h.cfg.DominanceRatio
	if ratio < 1 {
		ratio = 1
	}
	runnerUp := candidates[1].PriorityScore
	if runnerUp <= 0 || top.PriorityScore/runnerUp >= ratio {
		return schemas.Decision{
			Type:       schemas.DecisionSelectAction,
			Confidence: 90,
			Rule:       RuleDominantScore,
			Candidate:  &top,
			Rationale:  fmt.Sprintf("top score %.2f dominates runner-up %.2f", top.PriorityScore, runnerUp),
		}
	}

	// Rule 4: call-to-action phrasing.
	if matchesCTA(top.Element) {
		conf := 75
		if conf >= h.cfg.ConfidenceThreshold {
			return schemas.Decision{
				Type:       schemas.DecisionSelectAction,
				Confidence: conf,
				Rule:       RuleCTAMatch,
				Candidate:  &top,
				Rationale:  "top candidate carries call-to-action text",
			}
		}
	}

	// Rule 5: the top candidate navigates somewhere new.
	if top.Element.Href != "" && covCtx.VisitedURLs != nil && !covCtx.VisitedURLs[top.Element.Href] {
		conf := 75
		if conf >= h.cfg.ConfidenceThreshold {
			return schemas.Decision{
				Type:       schemas.DecisionSelectAction,
				Confidence: conf,
				Rule:       RuleNovelURL,
				Candidate:  &top,
				Rationale:  "top candidate targets an unvisited URL",
			}
		}
	}

	// Rule 6: punt to the expensive tier.
	h.log.Debug("Heuristic gate uncertain", zap.Int("candidates", len(candidates)))
	return schemas.Decision{
		Type:       schemas.DecisionUncertain,
		Confidence: 0,
		Rule:       RuleUncertain,
	}
}

func matchesCTA(el schemas.ElementDescriptor) bool {
	text := strings.ToLower(strings.Join([]string{el.Text, el.AriaLabel}, " "))
	for _, phrase := range ctaPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
