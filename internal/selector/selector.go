// File: internal/selector/selector.go
// ActionSelector extracts no state from the page itself; it scores and ranks
// candidates handed to it each decision cycle. The only thing that survives
// across steps is the attempt-count ledger driving score decay.
package selector

import (
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

// Context carries the run-level signals the scorer needs.
type Context struct {
	VisitedURLs map[string]bool
	CurrentURL  string
	// TypeBias biases scoring toward action types that historically produced
	// coverage gain (from CoverageTracker.MostEffectiveActionTypes).
	TypeBias map[schemas.ActionType]float64
}

// ctaVocabulary matches call-to-action phrasing that signals business-critical
// intent. Scored higher than neutral labels.
var ctaVocabulary = []string{
	"sign up", "signup", "register", "subscribe", "checkout", "buy",
	"purchase", "add to cart", "get started", "start free", "try free",
	"create account", "join", "order", "book", "download", "continue",
	"submit", "log in", "login", "next",
}

// neutralVocabulary matches labels that rarely advance exploration.
var neutralVocabulary = []string{
	"cancel", "close", "dismiss", "back", "ok", "okay", "skip", "not now",
}

// destructiveVocabulary matches actions with irreversible side effects. The
// engine avoids these during exploration.
var destructiveVocabulary = []string{
	"delete", "remove", "destroy", "erase", "clear all", "reset", "wipe",
	"deactivate", "unsubscribe", "cancel subscription", "revoke",
}

// Selector assigns priority scores and maintains the attempt ledger.
type Selector struct {
	cfg      config.SelectorConfig
	mu       sync.Mutex
	attempts map[string]int // "(selector)\x00(actionType)" -> attempt count
	log      *zap.Logger
}

// New creates a selector with the given scoring configuration.
func New(cfg config.SelectorConfig, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		cfg:      cfg,
		attempts: make(map[string]int),
		log:      logger.Named("ActionSelector"),
	}
}

func attemptKey(selector string, actionType schemas.ActionType) string {
	return selector + "\x00" + string(actionType)
}

// RecordAttempt bumps the attempt counter for a (selector, actionType) pair.
func (s *Selector) RecordAttempt(selector string, actionType schemas.ActionType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attemptKey(selector, actionType)]++
}

// AttemptCount returns the recorded attempts for a pair.
func (s *Selector) AttemptCount(selector string, actionType schemas.ActionType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[attemptKey(selector, actionType)]
}

// Reset clears the attempt ledger.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = make(map[string]int)
}

func matchesAny(text string, vocab []string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range vocab {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func elementText(el schemas.ElementDescriptor) string {
	return strings.Join([]string{el.Text, el.AriaLabel, el.Placeholder}, " ")
}

// noveltyScore boosts actions whose target URL has not been visited yet.
func noveltyScore(c schemas.ActionCandidate, ctx Context) float64 {
	if c.Element.Href == "" {
		// Non-navigational actions may still reveal in-page state.
		return 0.4
	}
	if ctx.VisitedURLs != nil && ctx.VisitedURLs[c.Element.Href] {
		return 0.1
	}
	return 1.0
}

// businessScore ranks call-to-action phrasing above neutral labels.
func businessScore(c schemas.ActionCandidate) float64 {
	text := elementText(c.Element)
	switch {
	case matchesAny(text, ctaVocabulary):
		return 1.0
	case matchesAny(text, neutralVocabulary):
		return 0.1
	default:
		return 0.4
	}
}

// riskScore penalizes destructive-looking actions. Higher is safer.
func riskScore(c schemas.ActionCandidate) float64 {
	if matchesAny(elementText(c.Element), destructiveVocabulary) {
		return 0.0
	}
	return 1.0
}

// branchScore rewards actions likely to open many new paths.
func branchScore(c schemas.ActionCandidate) float64 {
	el := c.Element
	switch {
	case el.Role == "menu" || el.Role == "menuitem" || el.Role == "navigation":
		return 1.0
	case el.Tag == "a" && el.Href != "":
		return 0.9
	case el.Tag == "select":
		return 0.7
	case el.Tag == "button" || el.Role == "button":
		return 0.6
	case c.Type == schemas.ActionFill:
		return 0.5
	default:
		return 0.3
	}
}

// ScoreAction fills in the candidate's priority score and breakdown. The
// weighted sum is layered with hard rules: disabled elements collapse to a
// near-zero score, inputs that unlock a disabled submit control get boosted
// above ordinary inputs, and repeated attempts decay multiplicatively.
func (s *Selector) ScoreAction(c schemas.ActionCandidate, ctx Context) schemas.ActionCandidate {
	breakdown := schemas.ScoreBreakdown{
		Novelty:             noveltyScore(c, ctx),
		BusinessCriticality: businessScore(c),
		Risk:                riskScore(c),
		BranchFactor:        branchScore(c),
	}
	c.Breakdown = breakdown

	score := s.cfg.NoveltyWeight*breakdown.Novelty +
		s.cfg.BusinessWeight*breakdown.BusinessCriticality +
		s.cfg.RiskWeight*breakdown.Risk +
		s.cfg.BranchWeight*breakdown.BranchFactor

	if bias, ok := ctx.TypeBias[c.Type]; ok {
		score *= 1.0 + bias
	}

	if c.Element.EnablesSubmitButton {
		// Filling this input is a prerequisite for an otherwise-disabled
		// submit control; fill-before-click ordering depends on this boost.
		score += 0.5
	}

	attempts := s.AttemptCount(c.Selector, c.Type)
	c.WasAttempted = attempts > 0
	c.DecayFactor = math.Pow(s.cfg.DecayRate, float64(attempts))
	score *= c.DecayFactor

	if c.Element.IsDisabled {
		// Hard rule: disabled elements are effectively unactionable.
		score = math.Min(score, 0.05)
	}

	c.PriorityScore = score
	return c
}

// RankActions scores every candidate and returns them sorted by priority,
// highest first.
func (s *Selector) RankActions(candidates []schemas.ActionCandidate, ctx Context) []schemas.ActionCandidate {
	scored := make([]schemas.ActionCandidate, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, s.ScoreAction(c, ctx))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].PriorityScore > scored[j].PriorityScore
	})
	return scored
}

// SelectTopActions ranks the candidates and returns the top n after
// filtering: disabled elements are excluded outright, and candidates whose
// attempt count exceeds the retry ceiling are dropped entirely.
func (s *Selector) SelectTopActions(candidates []schemas.ActionCandidate, ctx Context, n int) []schemas.ActionCandidate {
	ranked := s.RankActions(candidates, ctx)

	out := make([]schemas.ActionCandidate, 0, n)
	for _, c := range ranked {
		if c.Element.IsDisabled {
			continue
		}
		if s.cfg.MaxRetries > 0 && s.AttemptCount(c.Selector, c.Type) > s.cfg.MaxRetries {
			s.log.Debug("Dropping candidate past retry ceiling",
				zap.String("selector", c.Selector),
				zap.String("action", string(c.Type)))
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}
