// File: internal/decision/engine.go
// DecisionEngine is the expensive tier: it ships the node summary, the top-K
// pre-ranked candidates and recent history to the LLM and validates whatever
// comes back. Every failure mode degrades to a deterministic local choice;
// the search loop never blocks on the model.
package decision

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const decisionSystemPrompt = `You are the decision layer of an autonomous web-UI exploration engine.
Given the current page state, a ranked list of candidate actions and recent history,
pick the actions most likely to reveal new application state, or declare the branch
exhausted when nothing promising remains.

Respond with a single JSON object:
{
  "decisions": [{"selector": "...", "action_type": "click|fill|hover|press|navigate", "rank": 1, "interaction_hint": "...", "rationale": "..."}],
  "branch_exhausted": false,
  "exhausted_reason": "",
  "observations": ""
}
Rank 1 is the action to take next. Return an empty decisions list with
branch_exhausted=true when the branch is done.`

const fallbackRule = "llm_fallback"

// Engine escalates uncertain gate results to the LLM.
type Engine struct {
	cfg    config.DecisionConfig
	client schemas.LLMClient
	log    *zap.Logger
}

// NewEngine creates the LLM-backed decision tier.
func NewEngine(cfg config.DecisionConfig, client schemas.LLMClient, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		client: client,
		log:    logger.Named("DecisionEngine"),
	}
}

// promptContext is the JSON context shipped to the model. Candidates are
// truncated to top-K before marshaling to bound prompt size.
type promptContext struct {
	PageURL    string                    `json:"page_url"`
	PageTitle  string                    `json:"page_title,omitempty"`
	Candidates []schemas.ActionCandidate `json:"candidates"`
	Coverage   schemas.CoverageContext   `json:"coverage"`
	History    []string                  `json:"recent_actions"`
}

// Decide asks the LLM to choose among the pre-ranked candidates. On any
// transport, parse or validation failure it returns the deterministic
// fallback: the top-ranked candidate, or backtrack when there is none.
func (e *Engine) Decide(ctx context.Context, pageURL, pageTitle string, candidates []schemas.ActionCandidate, covCtx schemas.CoverageContext, history []string) schemas.Decision {
	if len(candidates) == 0 {
		return schemas.Decision{
			Type:       schemas.DecisionBacktrack,
			Confidence: 100,
			Rule:       RuleNoActions,
		}
	}
	if e.client == nil {
		return e.fallback(candidates, "no LLM client configured")
	}

	topK := e.cfg.TopK
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	window := e.cfg.HistoryWindow
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}

	pc := promptContext{
		PageURL:    pageURL,
		PageTitle:  pageTitle,
		Candidates: candidates[:topK],
		Coverage:   covCtx,
		History:    history,
	}
	contextJSON, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return e.fallback(candidates, fmt.Sprintf("failed to marshal prompt context: %v", err))
	}

	raw, err := e.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: decisionSystemPrompt,
		UserPrompt:   fmt.Sprintf("Current exploration context:\n%s\n\nDetermine the next action. Respond with a single JSON object.", contextJSON),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return e.fallback(candidates, fmt.Sprintf("LLM request failed: %v", err))
	}

	resp, err := parseDecisionResponse(raw)
	if err != nil {
		e.log.Warn("Discarding malformed LLM decision", zap.Error(err), zap.String("raw_response", raw))
		return e.fallback(candidates, fmt.Sprintf("malformed response: %v", err))
	}

	if resp.BranchExhausted {
		return schemas.Decision{
			Type:       schemas.DecisionBacktrack,
			Confidence: 85,
			Rule:       "llm_branch_exhausted",
			Rationale:  resp.ExhaustedReason,
		}
	}

	chosen := e.resolveDecision(resp.Decisions, candidates)
	if chosen == nil {
		return e.fallback(candidates, "LLM decisions referenced no known candidate")
	}
	return *chosen
}

// resolveDecision maps the model's ranked picks back onto real candidates.
// A pick that names a selector the page does not have is skipped.
func (e *Engine) resolveDecision(decisions []schemas.ActionDecision, candidates []schemas.ActionCandidate) *schemas.Decision {
	best := struct {
		rank int
		dec  *schemas.Decision
	}{rank: int(^uint(0) >> 1)}

	for _, d := range decisions {
		for i := range candidates {
			c := candidates[i]
			if d.Selector != c.Selector {
				continue
			}
			if d.ActionType != "" && d.ActionType != c.Type {
				continue
			}
			if d.Rank < best.rank {
				best.rank = d.Rank
				best.dec = &schemas.Decision{
					Type:            schemas.DecisionSelectAction,
					Confidence:      80,
					Rule:            "llm_ranked",
					EdgeID:          d.EdgeID,
					Candidate:       &c,
					Rationale:       strings.TrimSpace(d.Rationale),
					InteractionHint: d.InteractionHint,
				}
			}
			break
		}
	}
	return best.dec
}

func (e *Engine) fallback(candidates []schemas.ActionCandidate, why string) schemas.Decision {
	e.log.Warn("Falling back to deterministic selection", zap.String("reason", why))
	top := candidates[0]
	return schemas.Decision{
		Type:       schemas.DecisionSelectAction,
		Confidence: 50,
		Rule:       fallbackRule,
		Candidate:  &top,
		Rationale:  why,
	}
}

// jsonBlockRegex extracts a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// extractJSON pulls the JSON payload out of an LLM response, handling
// markdown fences and leading prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	firstBracket := strings.Index(response, "{")
	lastBracket := strings.LastIndex(response, "}")
	if firstBracket != -1 && lastBracket > firstBracket {
		return response[firstBracket : lastBracket+1]
	}
	return response
}

func parseDecisionResponse(raw string) (*schemas.DecisionResponse, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("could not find any JSON in the LLM response")
	}

	var resp schemas.DecisionResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}
