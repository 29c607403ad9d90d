// File: api/schemas/explorer.go
// Shared value types for the exploration engine: state fingerprints, action
// candidates, coverage accounting, budget status and run results.
package schemas

import "time"

// ActionType enumerates the interactions the engine can exercise on a page.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionHover    ActionType = "hover"
	ActionPress    ActionType = "press"
	ActionNavigate ActionType = "navigate"
)

// StateFingerprint is the hash-based identity of an observed application state.
// Two fingerprints denote the same state iff CombinedHash matches; the five
// component hashes only support partial-similarity scoring, never identity.
//
// The fingerprint is a finite hash over DOM/text/form/dialog signals. Hash
// collisions on a large dynamic site are an accepted heuristic risk: "same
// hash" is treated as "same state" without a semantic equivalence guarantee.
//
// Fingerprints are immutable value objects. Never mutate one after creation.
type StateFingerprint struct {
	URLHash          string    `json:"url_hash"`
	DOMStructureHash string    `json:"dom_structure_hash"`
	VisibleTextHash  string    `json:"visible_text_hash"`
	FormStateHash    string    `json:"form_state_hash"`
	DialogStateHash  string    `json:"dialog_state_hash"`
	CombinedHash     string    `json:"combined_hash"`
	Timestamp        time.Time `json:"timestamp"`
}

// Similarity reports the fraction of component hashes shared with other.
// Useful for diagnosing near-duplicate states; not an identity test.
func (f StateFingerprint) Similarity(other StateFingerprint) float64 {
	matches := 0
	pairs := [][2]string{
		{f.URLHash, other.URLHash},
		{f.DOMStructureHash, other.DOMStructureHash},
		{f.VisibleTextHash, other.VisibleTextHash},
		{f.FormStateHash, other.FormStateHash},
		{f.DialogStateHash, other.DialogStateHash},
	}
	for _, p := range pairs {
		if p[0] == p[1] {
			matches++
		}
	}
	return float64(matches) / float64(len(pairs))
}

// StateTransition records a single observed move between two states.
type StateTransition struct {
	FromHash  string          `json:"from_hash"`
	ToHash    string          `json:"to_hash"`
	Action    ActionCandidate `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
}

// ElementDescriptor captures the properties of an interactive element that
// matter for scoring and smart interaction, extracted from the live DOM.
type ElementDescriptor struct {
	Selector             string `json:"selector"`
	Tag                  string `json:"tag"`
	Text                 string `json:"text"`
	Href                 string `json:"href,omitempty"`
	Placeholder          string `json:"placeholder,omitempty"`
	AriaLabel            string `json:"aria_label,omitempty"`
	InputType            string `json:"input_type,omitempty"`
	Role                 string `json:"role,omitempty"`
	IsDisabled           bool   `json:"is_disabled"`
	IsVisible            bool   `json:"is_visible"`
	EnablesSubmitButton  bool   `json:"enables_submit_button"`
	HasEmptyRequiredInput bool  `json:"has_empty_required_input"`
}

// ScoreBreakdown itemizes the weighted terms behind a candidate's priority
// score so every ranking decision stays explainable.
type ScoreBreakdown struct {
	Novelty             float64 `json:"novelty"`
	BusinessCriticality float64 `json:"business_criticality"`
	Risk                float64 `json:"risk"`
	BranchFactor        float64 `json:"branch_factor"`
}

// ActionCandidate is a scored, not-yet-committed action. Candidates are
// ephemeral: recomputed each decision cycle from the live DOM. Only the
// attempt-count ledger in the selector survives across steps.
type ActionCandidate struct {
	Selector      string            `json:"selector"`
	Type          ActionType        `json:"type"`
	Element       ElementDescriptor `json:"element"`
	PriorityScore float64           `json:"priority_score"`
	Breakdown     ScoreBreakdown    `json:"breakdown"`
	WasAttempted  bool              `json:"was_attempted"`
	DecayFactor   float64           `json:"decay_factor"`
}

// CoverageSnapshot is a point-in-time copy of the accumulated coverage sets.
type CoverageSnapshot struct {
	StepIndex       int       `json:"step_index"`
	URLs            []string  `json:"urls"`
	Forms           []string  `json:"forms"`
	Dialogs         []string  `json:"dialogs"`
	Elements        []string  `json:"elements"`
	NetworkRequests []string  `json:"network_requests"`
	ConsoleErrors   []string  `json:"console_errors"`
	Timestamp       time.Time `json:"timestamp"`
}

// CoverageGain is the strict set-difference between two coverage snapshots
// across the six tracked dimensions.
type CoverageGain struct {
	NewURLs            []string `json:"new_urls"`
	NewForms           []string `json:"new_forms"`
	NewDialogs         []string `json:"new_dialogs"`
	NewElements        []string `json:"new_elements"`
	NewNetworkRequests []string `json:"new_network_requests"`
	NewConsoleErrors   []string `json:"new_console_errors"`
	HasGain            bool     `json:"has_gain"`
	TotalGain          int      `json:"total_gain"`
}

// ExhaustionReason identifies why a run must (or did) stop.
type ExhaustionReason string

const (
	ReasonManualStop         ExhaustionReason = "manual_stop"
	ReasonMaxSteps           ExhaustionReason = "max_steps_reached"
	ReasonMaxStates          ExhaustionReason = "max_states_reached"
	ReasonMaxDepth           ExhaustionReason = "max_depth_reached"
	ReasonStagnation         ExhaustionReason = "stagnation_detected"
	ReasonBudgetExhausted    ExhaustionReason = "budget_exhausted"
	ReasonNoActionsAvailable ExhaustionReason = "no_actions_available"
	ReasonCoverageComplete   ExhaustionReason = "coverage_complete"
	ReasonError              ExhaustionReason = "error"
)

// BudgetStatus reports the budget tracker counters at a point in time.
// Counters are monotonic within a run and reset only by an explicit Reset.
type BudgetStatus struct {
	StepsUsed          int              `json:"steps_used"`
	CurrentDepth       int              `json:"current_depth"`
	UniqueStates       int              `json:"unique_states"`
	StepsSinceLastGain int              `json:"steps_since_last_gain"`
	Exhausted          bool             `json:"exhausted"`
	ExhaustionReason   ExhaustionReason `json:"exhaustion_reason,omitempty"`
}

// StepRecord describes one executed exploration step for callbacks and the
// final result. Failures are absorbed into Error rather than propagated.
type StepRecord struct {
	Index     int              `json:"index"`
	Action    ActionCandidate  `json:"action"`
	Outcome   ActionOutcome    `json:"outcome"`
	Before    StateFingerprint `json:"before"`
	After     StateFingerprint `json:"after"`
	NewState  bool             `json:"new_state"`
	Gain      CoverageGain     `json:"gain"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ExploreResult is the terminal report of one exploration run.
type ExploreResult struct {
	RunID             string           `json:"run_id"`
	StartURL          string           `json:"start_url"`
	TerminationReason ExhaustionReason `json:"termination_reason"`
	Steps             []StepRecord     `json:"steps,omitempty"`
	Graph             *GraphExport     `json:"graph,omitempty"`
	Duration          time.Duration    `json:"duration"`
	UniqueStates      int              `json:"unique_states"`
	UniqueURLs        int              `json:"unique_urls"`
}

// ExplorationCallbacks is the only channel by which progress reaches the
// reporting/UI layers. All fields are optional; nil callbacks are skipped.
type ExplorationCallbacks struct {
	OnStart        func(startURL string)
	OnBeforeAction func(step StepRecord)
	OnAfterAction  func(step StepRecord)
	OnBacktrack    func(nodeID string, depth int)
	OnComplete     func(result ExploreResult)
	OnLog          func(message string, level string)
}

// EmitLog invokes OnLog when set.
func (c ExplorationCallbacks) EmitLog(message, level string) {
	if c.OnLog != nil {
		c.OnLog(message, level)
	}
}

// EmitBacktrack invokes OnBacktrack when set.
func (c ExplorationCallbacks) EmitBacktrack(nodeID string, depth int) {
	if c.OnBacktrack != nil {
		c.OnBacktrack(nodeID, depth)
	}
}
