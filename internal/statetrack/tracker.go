// File: internal/statetrack/tracker.go
// StateTracker fingerprints and deduplicates observed application states and
// records the transition history of a run. Pure bookkeeping: it never fails.
package statetrack

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// TransitionResult reports whether a recorded transition landed on a state
// not seen before.
type TransitionResult struct {
	IsNewState bool
}

// Tracker counts visits per unique combined hash and keeps the transition
// log. Construct one per exploration run; instances are never shared.
type Tracker struct {
	mu          sync.Mutex
	visits      map[string]int // combinedHash -> visit count
	transitions []schemas.StateTransition
	log         *zap.Logger
}

// New creates an empty state tracker.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		visits: make(map[string]int),
		log:    logger.Named("StateTracker"),
	}
}

// RecordState registers an observed fingerprint. It returns true iff this
// combined hash has not been seen before; the visit counter increments either
// way.
func (t *Tracker) RecordState(fp schemas.StateFingerprint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, seen := t.visits[fp.CombinedHash]
	t.visits[fp.CombinedHash]++

	if !seen {
		t.log.Debug("New state recorded", zap.String("hash", fp.CombinedHash))
	}
	return !seen
}

// UniqueStateCount returns the number of distinct combined hashes seen.
func (t *Tracker) UniqueStateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.visits)
}

// VisitCount returns how many times the given fingerprint's state was
// recorded. Unknown fingerprints report zero.
func (t *Tracker) VisitCount(fp schemas.StateFingerprint) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visits[fp.CombinedHash]
}

// RecordTransition appends a transition to the history and reports whether
// the destination state is new. The destination is also recorded as visited.
func (t *Tracker) RecordTransition(tr schemas.StateTransition) TransitionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, seen := t.visits[tr.ToHash]
	t.visits[tr.ToHash]++
	t.transitions = append(t.transitions, tr)

	return TransitionResult{IsNewState: !seen}
}

// Transitions returns a copy of the transition history.
func (t *Tracker) Transitions() []schemas.StateTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]schemas.StateTransition, len(t.transitions))
	copy(out, t.transitions)
	return out
}

// Reset discards all recorded states and transitions.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visits = make(map[string]int)
	t.transitions = nil
}
