// File: internal/budget/tracker.go
// BudgetTracker is the single authority on "can we continue?". It enforces
// the step/state/depth ceilings and detects stagnation. It never errors; it
// only reports.
package budget

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// Dimension names a budget axis for Remaining queries.
type Dimension string

const (
	DimensionSteps  Dimension = "steps"
	DimensionStates Dimension = "states"
	DimensionDepth  Dimension = "depth"
)

// Limits configures the ceilings for one run. A zero ceiling disables that
// axis.
type Limits struct {
	MaxTotalSteps       int
	MaxUniqueStates     int
	MaxDepth            int
	StagnationThreshold int
}

// Tracker holds the monotonic run counters. Construct one per run and hand it
// to exactly one explorer.
type Tracker struct {
	mu                 sync.Mutex
	limits             Limits
	stepsUsed          int
	currentDepth       int
	uniqueStates       int
	stepsSinceLastGain int
	stopped            bool
	stopReason         schemas.ExhaustionReason
	log                *zap.Logger
}

// New creates a budget tracker with the given limits.
func New(limits Limits, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		limits: limits,
		log:    logger.Named("BudgetTracker"),
	}
}

// exhaustionLocked evaluates the exhaustion reasons in precedence order:
// manual_stop > max_steps > max_states > max_depth > stagnation.
func (t *Tracker) exhaustionLocked() (schemas.ExhaustionReason, bool) {
	if t.stopped {
		reason := t.stopReason
		if reason == "" {
			reason = schemas.ReasonManualStop
		}
		return reason, true
	}
	if t.limits.MaxTotalSteps > 0 && t.stepsUsed >= t.limits.MaxTotalSteps {
		return schemas.ReasonMaxSteps, true
	}
	if t.limits.MaxUniqueStates > 0 && t.uniqueStates >= t.limits.MaxUniqueStates {
		return schemas.ReasonMaxStates, true
	}
	if t.limits.MaxDepth > 0 && t.currentDepth >= t.limits.MaxDepth {
		return schemas.ReasonMaxDepth, true
	}
	if t.limits.StagnationThreshold > 0 && t.stepsSinceLastGain >= t.limits.StagnationThreshold {
		return schemas.ReasonStagnation, true
	}
	return "", false
}

// CanContinue reports whether the run may take another step.
func (t *Tracker) CanContinue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exhausted := t.exhaustionLocked()
	return !exhausted
}

// RecordStep increments the step count. A step without coverage gain also
// advances the stagnation counter; any gain resets it to zero.
func (t *Tracker) RecordStep(hadGain bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stepsUsed++
	if hadGain {
		t.stepsSinceLastGain = 0
	} else {
		t.stepsSinceLastGain++
	}
}

// SetUniqueStates updates the unique state counter (fed by the state tracker).
func (t *Tracker) SetUniqueStates(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uniqueStates = n
}

// SetDepth updates the current exploration depth.
func (t *Tracker) SetDepth(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentDepth = n
}

// Stop flags the run as manually terminated with the given reason.
func (t *Tracker) Stop(reason schemas.ExhaustionReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.stopReason = reason
	t.log.Info("Budget manually stopped", zap.String("reason", string(reason)))
}

// GetStatus snapshots the counters and the current exhaustion verdict.
func (t *Tracker) GetStatus() schemas.BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	reason, exhausted := t.exhaustionLocked()
	return schemas.BudgetStatus{
		StepsUsed:          t.stepsUsed,
		CurrentDepth:       t.currentDepth,
		UniqueStates:       t.uniqueStates,
		StepsSinceLastGain: t.stepsSinceLastGain,
		Exhausted:          exhausted,
		ExhaustionReason:   reason,
	}
}

// Remaining reports the headroom left on one budget axis. Unlimited axes
// report -1.
func (t *Tracker) Remaining(dim Dimension) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	clamp := func(n int) int {
		if n < 0 {
			return 0
		}
		return n
	}

	switch dim {
	case DimensionSteps:
		if t.limits.MaxTotalSteps <= 0 {
			return -1
		}
		return clamp(t.limits.MaxTotalSteps - t.stepsUsed)
	case DimensionStates:
		if t.limits.MaxUniqueStates <= 0 {
			return -1
		}
		return clamp(t.limits.MaxUniqueStates - t.uniqueStates)
	case DimensionDepth:
		if t.limits.MaxDepth <= 0 {
			return -1
		}
		return clamp(t.limits.MaxDepth - t.currentDepth)
	default:
		return -1
	}
}

// Reset clears all counters and the stop flag. Limits are retained.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stepsUsed = 0
	t.currentDepth = 0
	t.uniqueStates = 0
	t.stepsSinceLastGain = 0
	t.stopped = false
	t.stopReason = ""
}
