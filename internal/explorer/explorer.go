// File: internal/explorer/explorer.go
// The stateless beam/DFS exploration loop. Each iteration consults the
// budget, extracts fresh candidates from the live page, gates the beam
// through the heuristic analyzer and executes the winner. Backtracking
// re-navigates to a saved URL; no DOM state is ever restored.
package explorer

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/budget"
	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/coverage"
	"github.com/kestrelhq/wayfarer/internal/decision"
	"github.com/kestrelhq/wayfarer/internal/scope"
	"github.com/kestrelhq/wayfarer/internal/selector"
	"github.com/kestrelhq/wayfarer/internal/statetrack"
)

// Exploration strategies for beam construction.
const (
	StrategyCoverageGuided = "coverage_guided"
	StrategyBreadthFirst   = "breadth_first"
	StrategyDepthFirst     = "depth_first"
	StrategyRandom         = "random"
)

// backtrackFrame is the stateless variant's return recipe: the URL to
// re-navigate to and the depth it was saved at.
type backtrackFrame struct {
	url   string
	depth int
}

// Explorer drives one browser session through the target application. It
// owns its trackers exclusively for the duration of a run; construct a fresh
// set per run.
type Explorer struct {
	cfg    config.ExplorerConfig
	driver schemas.BrowserDriver
	cov    *coverage.Tracker
	states *statetrack.Tracker
	budget *budget.Tracker
	sel    *selector.Selector
	heur   *decision.HeuristicAnalyzer
	smart  *decision.SmartInteraction
	rng    *rand.Rand
	log    *zap.Logger
}

// New wires an explorer to its collaborators. The trackers must not be
// shared with any other explorer instance.
func New(driver schemas.BrowserDriver, cov *coverage.Tracker, states *statetrack.Tracker, bud *budget.Tracker, cfg *config.Config, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Explorer{
		cfg:    cfg.Explorer,
		driver: driver,
		cov:    cov,
		states: states,
		budget: bud,
		sel:    selector.New(cfg.Selector, logger),
		heur:   decision.NewHeuristicAnalyzer(cfg.Decision, logger),
		smart:  decision.NewSmartInteraction(nil, logger),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    logger.Named("Explorer"),
	}
}

// Stop requests cooperative termination. The in-flight action finishes; the
// loop observes the flag at the top of the next iteration.
func (e *Explorer) Stop() {
	e.budget.Stop(schemas.ReasonManualStop)
}

// Explore runs the loop from startURL until the budget is exhausted or no
// actions remain anywhere. All internal failures are absorbed into step
// records or the termination reason; Explore itself never fails.
func (e *Explorer) Explore(ctx context.Context, startURL string, cb schemas.ExplorationCallbacks) schemas.ExploreResult {
	start := time.Now()
	result := schemas.ExploreResult{
		RunID:    uuid.New().String(),
		StartURL: startURL,
	}

	finish := func(reason schemas.ExhaustionReason) schemas.ExploreResult {
		result.TerminationReason = reason
		result.Duration = time.Since(start)
		result.UniqueStates = e.states.UniqueStateCount()
		result.UniqueURLs = e.cov.GetStats().URLs
		if cb.OnComplete != nil {
			cb.OnComplete(result)
		}
		e.log.Info("Exploration finished",
			zap.String("run_id", result.RunID),
			zap.String("reason", string(reason)),
			zap.Int("steps", len(result.Steps)),
			zap.Int("unique_states", result.UniqueStates))
		return result
	}

	sc, err := scope.NewManager(startURL, e.cfg.IncludeSubdomains)
	if err != nil {
		cb.EmitLog(fmt.Sprintf("invalid start URL: %v", err), "error")
		return finish(schemas.ReasonError)
	}

	if cb.OnStart != nil {
		cb.OnStart(startURL)
	}

	if err := e.driver.Open(ctx, startURL); err != nil {
		cb.EmitLog(fmt.Sprintf("failed to open start URL: %v", err), "error")
		return finish(schemas.ReasonError)
	}
	e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
	drainBrowserObservations(e.driver, e.cov)

	var stack []backtrackFrame
	depth := 0
	e.budget.SetDepth(depth)

	for {
		if ctx.Err() != nil {
			e.budget.Stop(schemas.ReasonManualStop)
		}

		status := e.budget.GetStatus()
		if status.Exhausted {
			// At the depth ceiling, backtrack instead of terminating when a
			// saved frame is available.
			if status.ExhaustionReason == schemas.ReasonMaxDepth && len(stack) > 0 {
				stack, depth = e.backtrack(ctx, stack, cb)
				continue
			}
			return finish(status.ExhaustionReason)
		}

		currentURL, err := e.driver.CurrentURL(ctx)
		if err != nil {
			if Classify(err) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("browser session lost: %v", err), "error")
				return finish(schemas.ReasonError)
			}
			currentURL = startURL
		}
		e.cov.RecordURL(normalizeCoverageURL(sc, currentURL))

		elements, err := e.driver.ExtractInteractables(ctx)
		if err != nil {
			if Classify(err) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("browser session lost: %v", err), "error")
				return finish(schemas.ReasonError)
			}
			cb.EmitLog(fmt.Sprintf("element extraction failed: %v", err), "warn")
			elements = nil
		}

		selCtx := selector.Context{
			VisitedURLs: e.cov.VisitedURLs(),
			CurrentURL:  currentURL,
			TypeBias:    e.typeBias(),
		}
		beam := e.buildBeam(buildCandidates(elements, sc, currentURL), selCtx)

		covCtx := e.coverageContext(depth)
		d := e.heur.Analyze(beam, covCtx)
		cb.EmitLog(fmt.Sprintf("decision %s rule=%s confidence=%d", d.Type, d.Rule, d.Confidence), "debug")

		switch d.Type {
		case schemas.DecisionBacktrack:
			if len(stack) == 0 {
				return finish(schemas.ReasonNoActionsAvailable)
			}
			stack, depth = e.backtrack(ctx, stack, cb)
			continue
		case schemas.DecisionUncertain:
			// This variant carries no LLM tier; an uncertain verdict falls
			// through to the beam's top pick.
			d = schemas.Decision{
				Type:       schemas.DecisionSelectAction,
				Confidence: 50,
				Rule:       "beam_top",
				Candidate:  &beam[0],
			}
		}

		pick := *d.Candidate
		step := schemas.StepRecord{
			Index:     status.StepsUsed,
			Action:    pick,
			Timestamp: time.Now().UTC(),
		}
		if cb.OnBeforeAction != nil {
			cb.OnBeforeAction(step)
		}

		priorCoverage := e.cov.TakeSnapshot(status.StepsUsed)
		beforeSignals, sigErr := e.driver.CapturePageSignals(ctx)
		if sigErr == nil {
			step.Before = statetrack.NewFingerprint(beforeSignals)
		}
		beforeSnap, _ := e.driver.TakePageSnapshot(ctx)

		e.sel.RecordAttempt(pick.Selector, pick.Type)
		actErr := e.execute(ctx, pick)

		if actErr != nil {
			if Classify(actErr) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("action failed fatally: %v", actErr), "error")
				return finish(schemas.ReasonError)
			}
			if sel, n, ok := ParseAmbiguousMatch(actErr); ok {
				cb.EmitLog(fmt.Sprintf("ambiguous selector %q matched %d elements", sel, n), "warn")
			}
			step.Error = actErr.Error()
			step.Outcome = schemas.ActionOutcome{Type: schemas.OutcomeError, Details: actErr.Error()}
			e.budget.RecordStep(false)
			result.Steps = append(result.Steps, step)
			if cb.OnAfterAction != nil {
				cb.OnAfterAction(step)
			}
			continue
		}

		e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
		afterSnap, _ := e.driver.TakePageSnapshot(ctx)
		step.Outcome = e.driver.DetectActionOutcome(beforeSnap, afterSnap)

		afterSignals, sigErr := e.driver.CapturePageSignals(ctx)
		if sigErr != nil {
			if Classify(sigErr) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("browser session lost: %v", sigErr), "error")
				return finish(schemas.ReasonError)
			}
			afterSignals = beforeSignals
		}
		step.After = statetrack.NewFingerprint(afterSignals)

		e.recordObservation(afterSignals, sc)
		drainBrowserObservations(e.driver, e.cov)
		tr := e.states.RecordTransition(schemas.StateTransition{
			FromHash:  step.Before.CombinedHash,
			ToHash:    step.After.CombinedHash,
			Action:    pick,
			Timestamp: time.Now().UTC(),
		})
		step.NewState = tr.IsNewState
		e.budget.SetUniqueStates(e.states.UniqueStateCount())

		step.Gain = e.cov.CalculateGain(priorCoverage)
		e.cov.RecordActionOutcome(coverage.ActionOutcomeRecord{
			ActionType: pick.Type,
			TotalGain:  step.Gain.TotalGain,
			StepIndex:  step.Index,
			Timestamp:  time.Now().UTC(),
		})
		e.budget.RecordStep(step.Gain.HasGain)

		// External navigation is never followed; return to where we were.
		if out, escaped := e.escapedScope(ctx, sc); escaped {
			cb.EmitLog(fmt.Sprintf("left scope to %s, returning", out), "info")
			if err := e.driver.Open(ctx, currentURL); err != nil && Classify(err) == ErrorHard {
				return finish(schemas.ReasonError)
			}
			e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
			result.Steps = append(result.Steps, step)
			if cb.OnAfterAction != nil {
				cb.OnAfterAction(step)
			}
			continue
		}

		// Any new fingerprint deepens the chain, navigations and in-page
		// mutations alike; re-opening the saved URL resets either kind.
		if tr.IsNewState {
			if len(beam) > 1 {
				// Alternatives remain at the state we just left.
				stack = append(stack, backtrackFrame{url: currentURL, depth: depth})
			}
			depth++
			e.budget.SetDepth(depth)
		}

		result.Steps = append(result.Steps, step)
		if cb.OnAfterAction != nil {
			cb.OnAfterAction(step)
		}
	}
}

// backtrack pops the newest frame and re-navigates to it.
func (e *Explorer) backtrack(ctx context.Context, stack []backtrackFrame, cb schemas.ExplorationCallbacks) ([]backtrackFrame, int) {
	frame := stack[len(stack)-1]
	stack = stack[:len(stack)-1]

	e.log.Debug("Backtracking", zap.String("url", frame.url), zap.Int("depth", frame.depth))
	cb.EmitBacktrack(frame.url, frame.depth)

	if err := e.driver.Open(ctx, frame.url); err != nil {
		e.log.Warn("Backtrack navigation failed", zap.Error(err))
	}
	e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
	e.budget.SetDepth(frame.depth)
	return stack, frame.depth
}

// buildBeam ranks candidates and orders the beam per the configured strategy.
func (e *Explorer) buildBeam(candidates []schemas.ActionCandidate, selCtx selector.Context) []schemas.ActionCandidate {
	width := e.cfg.BeamWidth
	if width <= 0 {
		width = 5
	}

	switch e.cfg.Strategy {
	case StrategyBreadthFirst:
		// Prefer unvisited URLs; the scorer breaks ties within each group.
		ranked := e.sel.SelectTopActions(candidates, selCtx, len(candidates))
		var novel, rest []schemas.ActionCandidate
		for _, c := range ranked {
			if c.Element.Href != "" && !selCtx.VisitedURLs[c.Element.Href] {
				novel = append(novel, c)
			} else {
				rest = append(rest, c)
			}
		}
		return truncate(append(novel, rest...), width)
	case StrategyDepthFirst:
		// First not-yet-attempted candidate in document order wins.
		var fresh, attempted []schemas.ActionCandidate
		for _, c := range candidates {
			if c.Element.IsDisabled {
				continue
			}
			scored := e.sel.ScoreAction(c, selCtx)
			if scored.WasAttempted {
				attempted = append(attempted, scored)
			} else {
				fresh = append(fresh, scored)
			}
		}
		return truncate(append(fresh, attempted...), width)
	case StrategyRandom:
		filtered := e.sel.SelectTopActions(candidates, selCtx, len(candidates))
		e.rng.Shuffle(len(filtered), func(i, j int) {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		})
		return truncate(filtered, width)
	default: // coverage_guided
		return e.sel.SelectTopActions(candidates, selCtx, width)
	}
}

func truncate(cands []schemas.ActionCandidate, n int) []schemas.ActionCandidate {
	if len(cands) > n {
		return cands[:n]
	}
	return cands
}

// execute performs the chosen action against the browser. Fill targets route
// through smart interaction for value synthesis.
func (e *Explorer) execute(ctx context.Context, pick schemas.ActionCandidate) error {
	timeout := e.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.cov.RecordElementInteraction(pick.Selector)

	switch pick.Type {
	case schemas.ActionClick:
		return e.driver.Click(actionCtx, pick.Selector)
	case schemas.ActionFill:
		plan := e.smart.Plan(actionCtx, pick.Element, "")
		if err := e.driver.Fill(actionCtx, pick.Selector, plan.Value); err != nil {
			return err
		}
		if plan.PressEnterAfter {
			if err := e.driver.Press(actionCtx, pick.Selector, "Enter"); err != nil {
				return err
			}
		}
		if plan.WaitFor > 0 {
			select {
			case <-actionCtx.Done():
				return actionCtx.Err()
			case <-time.After(plan.WaitFor):
			}
		}
		return nil
	case schemas.ActionHover:
		return e.driver.Hover(actionCtx, pick.Selector)
	case schemas.ActionPress:
		return e.driver.Press(actionCtx, pick.Selector, "Enter")
	case schemas.ActionNavigate:
		return e.driver.Open(actionCtx, pick.Element.Href)
	default:
		return fmt.Errorf("unsupported action type %q", pick.Type)
	}
}

// escapedScope reports whether the current location left the target domain.
func (e *Explorer) escapedScope(ctx context.Context, sc *scope.Manager) (string, bool) {
	current, err := e.driver.CurrentURL(ctx)
	if err != nil {
		return "", false
	}
	parsed, err := url.Parse(current)
	if err != nil {
		return "", false
	}
	if sc.IsInScope(parsed) {
		return "", false
	}
	return current, true
}

// recordObservation feeds the page signals into the coverage dimensions.
func (e *Explorer) recordObservation(sig schemas.PageSignals, sc *scope.Manager) {
	e.cov.RecordURL(normalizeCoverageURL(sc, sig.URL))
	if sig.FormState != "" {
		e.cov.RecordForm(sig.FormState)
	}
	if sig.DialogState != "" {
		e.cov.RecordDialog(sig.DialogState)
	}
}

// typeBias converts the coverage effectiveness ranking into scorer bias.
func (e *Explorer) typeBias() map[schemas.ActionType]float64 {
	ranked := e.cov.MostEffectiveActionTypes()
	if len(ranked) == 0 {
		return nil
	}
	top := ranked[0].AverageGain
	if top <= 0 {
		return nil
	}
	bias := make(map[schemas.ActionType]float64, len(ranked))
	for _, r := range ranked {
		bias[r.ActionType] = 0.2 * (r.AverageGain / top)
	}
	return bias
}

// coverageContext summarizes run progress for the decision gate.
func (e *Explorer) coverageContext(depth int) schemas.CoverageContext {
	stats := e.cov.GetStats()
	status := e.budget.GetStatus()
	return schemas.CoverageContext{
		VisitedURLs:  e.cov.VisitedURLs(),
		URLCount:     stats.URLs,
		FormCount:    stats.Forms,
		DialogCount:  stats.Dialogs,
		TotalSteps:   status.StepsUsed,
		CurrentDepth: depth,
	}
}
