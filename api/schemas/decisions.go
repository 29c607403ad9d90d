// File: api/schemas/decisions.go
// Decision types for the two-tier heuristic/LLM gate and the wire schemas
// exchanged with the LLM collaborator.
package schemas

import (
	"fmt"
	"time"
)

// DecisionType tags the outcome of a decision cycle.
type DecisionType string

const (
	DecisionSelectAction DecisionType = "select_action"
	DecisionBacktrack    DecisionType = "backtrack"
	DecisionUncertain    DecisionType = "uncertain"
)

// Decision is the tagged result of the heuristic gate. Only uncertain results
// escalate to the LLM-backed engine; the expensive path stays strictly opt-in.
type Decision struct {
	Type            DecisionType     `json:"type"`
	Confidence      int              `json:"confidence"` // 0..100
	Rule            string           `json:"rule"`
	EdgeID          string           `json:"edge_id,omitempty"`
	Candidate       *ActionCandidate `json:"candidate,omitempty"`
	Rationale       string           `json:"rationale,omitempty"`
	InteractionHint string           `json:"interaction_hint,omitempty"` // value guidance for fill targets
}

// CoverageContext summarizes run progress for the decision layers.
type CoverageContext struct {
	VisitedURLs   map[string]bool `json:"-"`
	URLCount      int             `json:"url_count"`
	FormCount     int             `json:"form_count"`
	DialogCount   int             `json:"dialog_count"`
	TotalSteps    int             `json:"total_steps"`
	CurrentDepth  int             `json:"current_depth"`
	RecentActions []string        `json:"recent_actions,omitempty"`
}

// ActionDecision is one ranked pick returned by the LLM.
type ActionDecision struct {
	EdgeID          string     `json:"edge_id,omitempty"`
	Selector        string     `json:"selector"`
	ActionType      ActionType `json:"action_type"`
	Rank            int        `json:"rank"`
	InteractionHint string     `json:"interaction_hint,omitempty"`
	Rationale       string     `json:"rationale,omitempty"`
}

// DecisionResponse is the strict wire schema expected back from the LLM for a
// branch decision. Anything that fails Validate is treated identically to a
// network failure (soft, fallback path).
type DecisionResponse struct {
	Decisions       []ActionDecision `json:"decisions"`
	BranchExhausted bool             `json:"branch_exhausted"`
	ExhaustedReason string           `json:"exhausted_reason,omitempty"`
	Observations    string           `json:"observations,omitempty"`
}

// Validate enforces the response schema before any field is trusted.
func (r *DecisionResponse) Validate() error {
	if !r.BranchExhausted && len(r.Decisions) == 0 {
		return fmt.Errorf("decision response carries neither decisions nor a branch_exhausted flag")
	}
	for i, d := range r.Decisions {
		if d.Selector == "" && d.EdgeID == "" {
			return fmt.Errorf("decision %d has neither selector nor edge_id", i)
		}
		switch d.ActionType {
		case ActionClick, ActionFill, ActionHover, ActionPress, ActionNavigate, "":
		default:
			return fmt.Errorf("decision %d has unknown action_type %q", i, d.ActionType)
		}
	}
	return nil
}

// InteractionKind classifies a fill target for smart interaction.
type InteractionKind string

const (
	InteractionSearch InteractionKind = "search"
	InteractionLogin  InteractionKind = "login"
	InteractionFilter InteractionKind = "filter"
	InteractionForm   InteractionKind = "form"
)

// InteractionPlan is the synthesized input for a fill action: the value to
// type, how long to wait afterwards, and whether to press Enter.
type InteractionPlan struct {
	Kind            InteractionKind `json:"kind"`
	Value           string          `json:"value"`
	WaitFor         time.Duration   `json:"wait_for"`
	Expectation     string          `json:"expectation,omitempty"`
	PressEnterAfter bool            `json:"press_enter_after"`
}

// SmartInteractionResponse is the wire schema for LLM-synthesized fill values.
type SmartInteractionResponse struct {
	Value           string `json:"value"`
	WaitForMs       int    `json:"wait_for_ms"`
	Expectation     string `json:"expectation,omitempty"`
	PressEnterAfter bool   `json:"press_enter_after"`
}

// Validate enforces the smart-interaction schema.
func (r *SmartInteractionResponse) Validate() error {
	if r.Value == "" {
		return fmt.Errorf("smart interaction response has an empty value")
	}
	if r.WaitForMs < 0 {
		return fmt.Errorf("smart interaction response has a negative wait: %d", r.WaitForMs)
	}
	return nil
}
