// File: internal/orchestrator/orchestrator.go
// The orchestrator fans out exploration sessions. Each session owns a
// dedicated browser, an exclusive set of trackers and its own graph; only
// read-only configuration is shared across sessions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/browser"
	"github.com/kestrelhq/wayfarer/internal/budget"
	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/coverage"
	"github.com/kestrelhq/wayfarer/internal/explorer"
	"github.com/kestrelhq/wayfarer/internal/graph"
	"github.com/kestrelhq/wayfarer/internal/statetrack"
)

// Session abstracts one exploration run so tests can substitute the heavy
// browser-backed construction.
type Session interface {
	Explore(ctx context.Context, startURL string, cb schemas.ExplorationCallbacks) schemas.ExploreResult
	Stop()
}

// SessionFactory builds a run-ready session plus its teardown.
type SessionFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Session, func(), error)

// Orchestrator runs N concurrent exploration sessions against one target.
type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory SessionFactory
	archive *graph.Archive

	mu       sync.Mutex
	sessions []Session
}

// New creates an orchestrator using the default browser-backed session
// factory. The archive is optional; pass nil to skip persistence.
func New(cfg *config.Config, logger *zap.Logger, archive *graph.Archive) (*Orchestrator, error) {
	return NewWithFactory(cfg, logger, archive, defaultFactory)
}

// NewWithFactory creates an orchestrator with a custom session factory.
func NewWithFactory(cfg *config.Config, logger *zap.Logger, archive *graph.Archive, factory SessionFactory) (*Orchestrator, error) {
	if cfg == nil || factory == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("Orchestrator"),
		factory: factory,
		archive: archive,
	}, nil
}

// defaultFactory launches a real browser and builds a graph-backed explorer
// when an LLM key is configured, the stateless beam explorer otherwise.
func defaultFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Session, func(), error) {
	driver, err := browser.New(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	teardown := func() {
		if err := driver.Close(context.Background()); err != nil {
			logger.Warn("Browser close failed", zap.Error(err))
		}
	}

	// Trackers are constructed fresh per session and handed to exactly one
	// explorer; nothing mutable crosses session boundaries.
	limits := budget.Limits{
		MaxTotalSteps:       cfg.Explorer.MaxTotalSteps,
		MaxUniqueStates:     cfg.Explorer.MaxUniqueStates,
		MaxDepth:            cfg.Explorer.MaxDepth,
		StagnationThreshold: cfg.Explorer.StagnationThreshold,
	}
	cov := coverage.New(logger)
	states := statetrack.New(logger)
	bud := budget.New(limits, logger)

	if cfg.LLM.APIKey != "" {
		e, err := explorer.NewLLM(driver, cov, states, bud, cfg, logger)
		if err != nil {
			teardown()
			return nil, nil, err
		}
		return e, teardown, nil
	}
	return explorer.New(driver, cov, states, bud, cfg, logger), teardown, nil
}

// Run executes the configured number of sessions concurrently and collects
// their results. A session failing to start cancels its siblings; exploration
// failures themselves are absorbed into each result's termination reason.
func (o *Orchestrator) Run(ctx context.Context, startURL string, cb schemas.ExplorationCallbacks) ([]schemas.ExploreResult, error) {
	count := o.cfg.Orchestrator.Sessions
	if count <= 0 {
		count = 1
	}
	o.logger.Info("Starting exploration",
		zap.String("target", startURL),
		zap.Int("sessions", count),
		zap.String("strategy", o.cfg.Explorer.Strategy))

	results := make([]schemas.ExploreResult, count)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < count; i++ {
		idx := i
		g.Go(func() error {
			sessionLogger := o.logger.With(zap.Int("session", idx))
			session, teardown, err := o.factory(gctx, o.cfg, sessionLogger)
			if err != nil {
				return fmt.Errorf("session %d failed to start: %w", idx, err)
			}
			defer teardown()

			o.mu.Lock()
			o.sessions = append(o.sessions, session)
			o.mu.Unlock()

			results[idx] = session.Explore(gctx, startURL, cb)
			sessionLogger.Info("Session finished",
				zap.String("run_id", results[idx].RunID),
				zap.String("reason", string(results[idx].TerminationReason)),
				zap.Int("unique_states", results[idx].UniqueStates))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	if o.archive != nil {
		for _, result := range results {
			if result.Graph == nil {
				continue
			}
			if err := o.archive.SaveExport(ctx, *result.Graph, startURL, result.TerminationReason); err != nil {
				o.logger.Warn("Failed to archive exploration graph",
					zap.String("run_id", result.RunID),
					zap.Error(err))
			}
		}
	}
	return results, nil
}

// Stop requests cooperative termination of every live session.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.sessions {
		s.Stop()
	}
}
