// File: internal/explorer/llm_explorer.go
// The graph-backed DFS exploration loop. An explicit frame stack replaces
// recursion; each frame carries a return recipe that physically replays the
// path back to its node, because the browser offers no state rollback.
package explorer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/budget"
	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/coverage"
	"github.com/kestrelhq/wayfarer/internal/decision"
	"github.com/kestrelhq/wayfarer/internal/graph"
	"github.com/kestrelhq/wayfarer/internal/llmclient"
	"github.com/kestrelhq/wayfarer/internal/scope"
	"github.com/kestrelhq/wayfarer/internal/selector"
	"github.com/kestrelhq/wayfarer/internal/statetrack"
)

// StackFrame is one level of the DFS. returnAction replays the whole path
// from the start URL to this frame's node.
type StackFrame struct {
	NodeID       string
	Depth        int
	ReturnAction func(ctx context.Context) error
}

// LLMExplorer explores through the persistent graph, escalating uncertain
// branch decisions to the LLM-backed engine.
type LLMExplorer struct {
	cfg     config.ExplorerConfig
	driver  schemas.BrowserDriver
	cov     *coverage.Tracker
	states  *statetrack.Tracker
	budget  *budget.Tracker
	graph   *graph.Graph
	sel     *selector.Selector
	heur    *decision.HeuristicAnalyzer
	engine  *decision.Engine
	smart   *decision.SmartInteraction
	llm     schemas.LLMClient
	history []string
	log     *zap.Logger
}

// NewLLM builds a graph-backed explorer, constructing the LLM transport from
// configuration. The trackers must be exclusively owned.
func NewLLM(driver schemas.BrowserDriver, cov *coverage.Tracker, states *statetrack.Tracker, bud *budget.Tracker, cfg *config.Config, logger *zap.Logger) (*LLMExplorer, error) {
	client, err := llmclient.NewClient(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to construct LLM client: %w", err)
	}
	return NewLLMWithClient(driver, cov, states, bud, client, cfg, logger), nil
}

// NewLLMWithClient wires a graph-backed explorer to an existing LLM client.
func NewLLMWithClient(driver schemas.BrowserDriver, cov *coverage.Tracker, states *statetrack.Tracker, bud *budget.Tracker, client schemas.LLMClient, cfg *config.Config, logger *zap.Logger) *LLMExplorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExplorer{
		cfg:    cfg.Explorer,
		driver: driver,
		cov:    cov,
		states: states,
		budget: bud,
		graph:  graph.New(logger),
		sel:    selector.New(cfg.Selector, logger),
		heur:   decision.NewHeuristicAnalyzer(cfg.Decision, logger),
		engine: decision.NewEngine(cfg.Decision, client, logger),
		smart:  decision.NewSmartInteraction(client, logger),
		llm:    client,
		log:    logger.Named("LLMExplorer"),
	}
}

// Stop requests cooperative termination.
func (e *LLMExplorer) Stop() {
	e.budget.Stop(schemas.ReasonManualStop)
}

// Graph exposes the exploration graph for archival after a run.
func (e *LLMExplorer) Graph() *graph.Graph {
	return e.graph
}

// Explore runs the DFS from startURL. The result carries the full graph
// export; all internal failures are absorbed into the termination reason.
func (e *LLMExplorer) Explore(ctx context.Context, startURL string, cb schemas.ExplorationCallbacks) schemas.ExploreResult {
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
		export := e.graph.Export(result.RunID)
		result.Graph = &export
		if cb.OnComplete != nil {
			cb.OnComplete(result)
		}
		e.log.Info("Graph exploration finished",
			zap.String("run_id", result.RunID),
			zap.String("reason", string(reason)),
			zap.Int("nodes", len(export.Nodes)))
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

	rootReturn := func(ctx context.Context) error {
		if err := e.driver.Open(ctx, startURL); err != nil {
			return err
		}
		e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
		return nil
	}
	if err := rootReturn(ctx); err != nil {
		cb.EmitLog(fmt.Sprintf("failed to open start URL: %v", err), "error")
		return finish(schemas.ReasonError)
	}

	rootID, _, err := e.captureNode(ctx, 0, sc)
	if err != nil {
		cb.EmitLog(fmt.Sprintf("failed to capture initial state: %v", err), "error")
		return finish(schemas.ReasonError)
	}
	e.budget.SetUniqueStates(e.states.UniqueStateCount())

	stack := []StackFrame{{NodeID: rootID, Depth: 0, ReturnAction: rootReturn}}
	e.budget.SetDepth(0)

	for len(stack) > 0 {
		if ctx.Err() != nil {
			e.budget.Stop(schemas.ReasonManualStop)
		}

		status := e.budget.GetStatus()
		if status.Exhausted {
			if status.ExhaustionReason == schemas.ReasonMaxDepth && len(stack) > 1 {
				stack = e.popAndReturn(ctx, stack, cb)
				continue
			}
			return finish(status.ExhaustionReason)
		}

		frame := stack[len(stack)-1]
		pending, err := e.graph.GetPendingEdges(frame.NodeID)
		if err != nil {
			cb.EmitLog(fmt.Sprintf("graph lookup failed: %v", err), "error")
			return finish(schemas.ReasonError)
		}

		candidates := e.rankEdgeActions(pending)
		covCtx := e.coverageContext(frame.Depth)

		d := e.heur.Analyze(candidates, covCtx)
		if d.Type == schemas.DecisionUncertain {
			node, _ := e.graph.GetNode(frame.NodeID)
			pageURL, pageTitle := "", ""
			if node != nil {
				pageURL, pageTitle = node.URL, node.Title
			}
			d = e.engine.Decide(ctx, pageURL, pageTitle, candidates, covCtx, e.history)
		}
		cb.EmitLog(fmt.Sprintf("decision %s rule=%s confidence=%d", d.Type, d.Rule, d.Confidence), "debug")

		if d.Type == schemas.DecisionBacktrack {
			e.declareExhausted(frame.NodeID, d.Rationale)
			if len(stack) == 1 {
				// Root exhausted: every reachable branch was resolved.
				return finish(schemas.ReasonCoverageComplete)
			}
			stack = e.popAndReturn(ctx, stack, cb)
			continue
		}

		pick := *d.Candidate
		edgeID := graph.EdgeID(frame.NodeID, pick.Selector, pick.Type)

		step := schemas.StepRecord{
			Index:     status.StepsUsed,
			Action:    pick,
			Timestamp: time.Now().UTC(),
		}
		if cb.OnBeforeAction != nil {
			cb.OnBeforeAction(step)
		}

		priorCoverage := e.cov.TakeSnapshot(status.StepsUsed)
		beforeSnap, _ := e.driver.TakePageSnapshot(ctx)
		node, _ := e.graph.GetNode(frame.NodeID)
		if node != nil {
			step.Before = node.Fingerprint
		}

		e.sel.RecordAttempt(pick.Selector, pick.Type)
		e.pushHistory(fmt.Sprintf("%s %s", pick.Type, pick.Selector))
		actErr := e.executeEdge(ctx, pick, d.InteractionHint)

		if actErr != nil {
			if Classify(actErr) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("action failed fatally: %v", actErr), "error")
				return finish(schemas.ReasonError)
			}
			if sel, n, ok := ParseAmbiguousMatch(actErr); ok {
				cb.EmitLog(fmt.Sprintf("ambiguous selector %q matched %d elements", sel, n), "warn")
			}
			e.graph.UpdateEdge(edgeID, func(ge *schemas.GraphEdge) {
				ge.Status = schemas.EdgeFailed
				ge.AttemptCount++
			})
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

		// External navigation: replay back to the current node immediately.
		if e.leftScope(ctx, sc) {
			cb.EmitLog("left scope, replaying path back", "info")
			if err := frame.ReturnAction(ctx); err != nil {
				cb.EmitLog(fmt.Sprintf("return replay failed: %v", err), "error")
				return finish(schemas.ReasonError)
			}
			e.graph.UpdateEdge(edgeID, func(ge *schemas.GraphEdge) {
				ge.Status = schemas.EdgeExplored
				ge.AttemptCount++
			})
			e.budget.RecordStep(false)
			result.Steps = append(result.Steps, step)
			if cb.OnAfterAction != nil {
				cb.OnAfterAction(step)
			}
			continue
		}

		targetID, isNewNode, err := e.captureNode(ctx, frame.Depth+1, sc)
		if err != nil {
			if Classify(err) == ErrorHard {
				cb.EmitLog(fmt.Sprintf("browser session lost: %v", err), "error")
				return finish(schemas.ReasonError)
			}
			e.budget.RecordStep(false)
			continue
		}

		e.states.RecordTransition(schemas.StateTransition{
			FromHash:  frame.NodeID,
			ToHash:    targetID,
			Action:    pick,
			Timestamp: time.Now().UTC(),
		})
		e.budget.SetUniqueStates(e.states.UniqueStateCount())

		e.graph.UpdateEdge(edgeID, func(ge *schemas.GraphEdge) {
			ge.Status = schemas.EdgeExplored
			ge.TargetID = targetID
			ge.AttemptCount++
		})

		if tnode, terr := e.graph.GetNode(targetID); terr == nil {
			step.After = tnode.Fingerprint
		}
		step.NewState = isNewNode

		step.Gain = e.cov.CalculateGain(priorCoverage)
		e.cov.RecordActionOutcome(coverage.ActionOutcomeRecord{
			ActionType: pick.Type,
			TotalGain:  step.Gain.TotalGain,
			StepIndex:  step.Index,
			Timestamp:  time.Now().UTC(),
		})
		e.budget.RecordStep(step.Gain.HasGain)

		if isNewNode && targetID != frame.NodeID {
			// Descend: the child's return recipe replays the parent's path
			// and then this edge, so multi-level backtracking rebuilds the
			// entire route.
			parentReturn := frame.ReturnAction
			edgeAction := pick
			edgeHint := d.InteractionHint
			childReturn := func(ctx context.Context) error {
				if err := parentReturn(ctx); err != nil {
					return err
				}
				if err := e.executeEdge(ctx, edgeAction, edgeHint); err != nil {
					return err
				}
				e.driver.WaitForStability(ctx, schemas.StabilityOptions{})
				return nil
			}
			stack = append(stack, StackFrame{
				NodeID:       targetID,
				Depth:        frame.Depth + 1,
				ReturnAction: childReturn,
			})
			e.budget.SetDepth(frame.Depth + 1)
		} else if targetID != frame.NodeID {
			// Known state reached again: stay DFS-disciplined, replay back.
			if err := frame.ReturnAction(ctx); err != nil {
				cb.EmitLog(fmt.Sprintf("return replay failed: %v", err), "error")
				return finish(schemas.ReasonError)
			}
		}

		result.Steps = append(result.Steps, step)
		if cb.OnAfterAction != nil {
			cb.OnAfterAction(step)
		}
	}

	return finish(schemas.ReasonCoverageComplete)
}

// captureNode fingerprints the current page, registers it as a graph node
// and attaches its actionable elements as pending edges. The second return
// reports whether the node is newly discovered.
func (e *LLMExplorer) captureNode(ctx context.Context, depth int, sc *scope.Manager) (string, bool, error) {
	signals, err := e.driver.CapturePageSignals(ctx)
	if err != nil {
		return "", false, err
	}
	fp := statetrack.NewFingerprint(signals)
	nodeID := fp.CombinedHash

	e.recordObservation(signals, sc)
	drainBrowserObservations(e.driver, e.cov)

	added := e.graph.AddNode(schemas.GraphNode{
		ID:          nodeID,
		URL:         signals.URL,
		Title:       signals.Title,
		Fingerprint: fp,
		Depth:       depth,
	})
	e.states.RecordState(fp)

	if added {
		elements, err := e.driver.ExtractInteractables(ctx)
		if err != nil {
			if Classify(err) == ErrorHard {
				return "", false, err
			}
			e.log.Warn("Element extraction failed on new node", zap.Error(err))
			elements = nil
		}
		selCtx := selector.Context{
			VisitedURLs: e.cov.VisitedURLs(),
			CurrentURL:  signals.URL,
			TypeBias:    e.typeBias(),
		}
		for _, c := range e.sel.RankActions(buildCandidates(elements, sc, signals.URL), selCtx) {
			if c.Element.IsDisabled {
				continue
			}
			if _, err := e.graph.AddEdge(nodeID, c); err != nil {
				e.log.Warn("Failed to add edge", zap.Error(err))
			}
		}
	}
	return nodeID, added, nil
}

// rankEdgeActions re-scores the pending edges' actions with the current run
// context so decay and novelty stay fresh.
func (e *LLMExplorer) rankEdgeActions(pending []schemas.GraphEdge) []schemas.ActionCandidate {
	actions := make([]schemas.ActionCandidate, 0, len(pending))
	for _, edge := range pending {
		actions = append(actions, edge.Action)
	}
	selCtx := selector.Context{
		VisitedURLs: e.cov.VisitedURLs(),
		TypeBias:    e.typeBias(),
	}
	return e.sel.RankActions(actions, selCtx)
}

// declareExhausted marks a node's remaining pending edges as resolved after
// the decision layer declined the whole branch. Status derivation then flips
// the node to exhausted.
func (e *LLMExplorer) declareExhausted(nodeID, rationale string) {
	pending, err := e.graph.GetPendingEdges(nodeID)
	if err != nil {
		return
	}
	e.log.Debug("Branch declared exhausted",
		zap.String("node", nodeID),
		zap.Int("declined_edges", len(pending)),
		zap.String("rationale", rationale))
	for _, edge := range pending {
		e.graph.UpdateEdge(edge.ID, func(ge *schemas.GraphEdge) {
			ge.Status = schemas.EdgeFailed
		})
	}
}

// popAndReturn discards the top frame and replays the path to its parent.
func (e *LLMExplorer) popAndReturn(ctx context.Context, stack []StackFrame, cb schemas.ExplorationCallbacks) []StackFrame {
	stack = stack[:len(stack)-1]
	parent := stack[len(stack)-1]

	cb.EmitBacktrack(parent.NodeID, parent.Depth)
	e.log.Debug("Backtracking to parent node",
		zap.String("node", parent.NodeID),
		zap.Int("depth", parent.Depth))

	if err := parent.ReturnAction(ctx); err != nil {
		e.log.Warn("Backtrack replay failed", zap.Error(err))
	}
	e.budget.SetDepth(parent.Depth)
	return stack
}

// executeEdge performs an edge's action. Fill targets route through smart
// interaction; a decision-layer hint takes precedence over synthesis.
func (e *LLMExplorer) executeEdge(ctx context.Context, pick schemas.ActionCandidate, hint string) error {
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
		plan := e.smart.Plan(actionCtx, pick.Element, hint)
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

func (e *LLMExplorer) leftScope(ctx context.Context, sc *scope.Manager) bool {
	current, err := e.driver.CurrentURL(ctx)
	if err != nil {
		return false
	}
	parsed, err := url.Parse(current)
	if err != nil {
		return false
	}
	return !sc.IsInScope(parsed)
}

func (e *LLMExplorer) pushHistory(entry string) {
	e.history = append(e.history, entry)
	if len(e.history) > 10 {
		e.history = e.history[len(e.history)-10:]
	}
}

func (e *LLMExplorer) recordObservation(sig schemas.PageSignals, sc *scope.Manager) {
	e.cov.RecordURL(normalizeCoverageURL(sc, sig.URL))
	if sig.FormState != "" {
		e.cov.RecordForm(sig.FormState)
	}
	if sig.DialogState != "" {
		e.cov.RecordDialog(sig.DialogState)
	}
}

func (e *LLMExplorer) typeBias() map[schemas.ActionType]float64 {
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

func (e *LLMExplorer) coverageContext(depth int) schemas.CoverageContext {
	stats := e.cov.GetStats()
	status := e.budget.GetStatus()
	history := make([]string, len(e.history))
	copy(history, e.history)
	return schemas.CoverageContext{
		VisitedURLs:   e.cov.VisitedURLs(),
		URLCount:      stats.URLs,
		FormCount:     stats.Forms,
		DialogCount:   stats.Dialogs,
		TotalSteps:    status.StepsUsed,
		CurrentDepth:  depth,
		RecentActions: history,
	}
}
