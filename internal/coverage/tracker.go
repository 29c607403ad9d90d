// File: internal/coverage/tracker.go
// CoverageTracker accumulates the distinct URLs, forms, dialogs, element
// interactions, network requests and console errors seen during a run, and
// computes the marginal gain an action produced.
package coverage

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// ActionOutcomeRecord ledgers the coverage effect of a single executed action.
type ActionOutcomeRecord struct {
	ActionType schemas.ActionType
	TotalGain  int
	StepIndex  int
	Timestamp  time.Time
}

// ActionTypeEffectiveness ranks an action type by its average coverage gain.
type ActionTypeEffectiveness struct {
	ActionType  schemas.ActionType
	AverageGain float64
	Samples     int
}

// Stats is a compact summary of the accumulated coverage counters.
type Stats struct {
	URLs            int `json:"urls"`
	Forms           int `json:"forms"`
	Dialogs         int `json:"dialogs"`
	Elements        int `json:"elements"`
	NetworkRequests int `json:"network_requests"`
	ConsoleErrors   int `json:"console_errors"`
}

// Tracker owns the six coverage dimension sets. Construct one per run.
type Tracker struct {
	mu              sync.Mutex
	urls            map[string]struct{}
	forms           map[string]struct{}
	dialogs         map[string]struct{}
	elements        map[string]struct{}
	networkRequests map[string]struct{}
	consoleErrors   map[string]struct{}
	outcomes        []ActionOutcomeRecord
	log             *zap.Logger
}

// New creates an empty coverage tracker.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{log: logger.Named("CoverageTracker")}
	t.resetLocked()
	return t
}

func (t *Tracker) resetLocked() {
	t.urls = make(map[string]struct{})
	t.forms = make(map[string]struct{})
	t.dialogs = make(map[string]struct{})
	t.elements = make(map[string]struct{})
	t.networkRequests = make(map[string]struct{})
	t.consoleErrors = make(map[string]struct{})
	t.outcomes = nil
}

func record(set map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// RecordURL registers a URL; true iff it was not seen before.
func (t *Tracker) RecordURL(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.urls, url)
}

// RecordForm registers a form identifier.
func (t *Tracker) RecordForm(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.forms, id)
}

// RecordDialog registers a dialog identifier.
func (t *Tracker) RecordDialog(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.dialogs, id)
}

// RecordElementInteraction registers an interacted-with element selector.
func (t *Tracker) RecordElementInteraction(selector string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.elements, selector)
}

// RecordNetworkRequest registers a network request key (method + URL).
func (t *Tracker) RecordNetworkRequest(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.networkRequests, key)
}

// RecordConsoleError registers a distinct console error message.
func (t *Tracker) RecordConsoleError(msg string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return record(t.consoleErrors, msg)
}

// RecordActionOutcome appends an entry to the effectiveness ledger.
func (t *Tracker) RecordActionOutcome(rec ActionOutcomeRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = append(t.outcomes, rec)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TakeSnapshot copies the current coverage sets into an immutable snapshot.
func (t *Tracker) TakeSnapshot(stepIndex int) schemas.CoverageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return schemas.CoverageSnapshot{
		StepIndex:       stepIndex,
		URLs:            sortedKeys(t.urls),
		Forms:           sortedKeys(t.forms),
		Dialogs:         sortedKeys(t.dialogs),
		Elements:        sortedKeys(t.elements),
		NetworkRequests: sortedKeys(t.networkRequests),
		ConsoleErrors:   sortedKeys(t.consoleErrors),
		Timestamp:       time.Now().UTC(),
	}
}

// CalculateGain computes the strict set-difference between a prior snapshot
// and the tracker's current state.
func (t *Tracker) CalculateGain(prior schemas.CoverageSnapshot) schemas.CoverageGain {
	return GainBetween(prior, t.TakeSnapshot(prior.StepIndex+1))
}

// GainBetween computes the strict set-difference between two snapshots across
// all six dimensions. HasGain is true iff any dimension grew.
func GainBetween(prior, current schemas.CoverageSnapshot) schemas.CoverageGain {
	gain := schemas.CoverageGain{
		NewURLs:            diff(prior.URLs, current.URLs),
		NewForms:           diff(prior.Forms, current.Forms),
		NewDialogs:         diff(prior.Dialogs, current.Dialogs),
		NewElements:        diff(prior.Elements, current.Elements),
		NewNetworkRequests: diff(prior.NetworkRequests, current.NetworkRequests),
		NewConsoleErrors:   diff(prior.ConsoleErrors, current.ConsoleErrors),
	}
	gain.TotalGain = len(gain.NewURLs) + len(gain.NewForms) + len(gain.NewDialogs) +
		len(gain.NewElements) + len(gain.NewNetworkRequests) + len(gain.NewConsoleErrors)
	gain.HasGain = gain.TotalGain > 0
	return gain
}

// diff returns the members of current absent from prior.
func diff(prior, current []string) []string {
	seen := make(map[string]struct{}, len(prior))
	for _, p := range prior {
		seen[p] = struct{}{}
	}
	var out []string
	for _, c := range current {
		if _, ok := seen[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// MostEffectiveActionTypes ranks action types by their average coverage gain,
// highest first. Used to bias future scoring toward productive action types.
func (t *Tracker) MostEffectiveActionTypes() []ActionTypeEffectiveness {
	t.mu.Lock()
	defer t.mu.Unlock()

	totals := make(map[schemas.ActionType]int)
	counts := make(map[schemas.ActionType]int)
	for _, rec := range t.outcomes {
		totals[rec.ActionType] += rec.TotalGain
		counts[rec.ActionType]++
	}

	out := make([]ActionTypeEffectiveness, 0, len(totals))
	for at, total := range totals {
		out = append(out, ActionTypeEffectiveness{
			ActionType:  at,
			AverageGain: float64(total) / float64(counts[at]),
			Samples:     counts[at],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AverageGain != out[j].AverageGain {
			return out[i].AverageGain > out[j].AverageGain
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out
}

// GetStats reports the size of each coverage dimension.
func (t *Tracker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		URLs:            len(t.urls),
		Forms:           len(t.forms),
		Dialogs:         len(t.dialogs),
		Elements:        len(t.elements),
		NetworkRequests: len(t.networkRequests),
		ConsoleErrors:   len(t.consoleErrors),
	}
}

// VisitedURLs returns the set of recorded URLs, for novelty scoring.
func (t *Tracker) VisitedURLs() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.urls))
	for u := range t.urls {
		out[u] = true
	}
	return out
}

// Reset discards all accumulated coverage.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}
