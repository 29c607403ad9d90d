package explorer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

type llmMock struct {
	mock.Mock
}

func (m *llmMock) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *llmMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestLLMExploreSingleLinkNeverEscalates(t *testing.T) {
	driver := newFakeDriver(singleLinkSite())
	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	llm := &llmMock{}
	rec := &logRecorder{}
	var backtracks int

	e := NewLLMWithClient(driver, cov, states, bud, llm, cfg, nil)
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{
		OnLog:       rec.callback(),
		OnBacktrack: func(string, int) { backtracks++ },
	})

	// A forced move resolves in the heuristic tier; the LLM stays cold.
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	logs := rec.all()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "rule=single_action")
	assert.Contains(t, logs[0], "confidence=100")

	assert.Equal(t, schemas.ReasonCoverageComplete, result.TerminationReason)
	assert.GreaterOrEqual(t, backtracks, 1)

	require.NotNil(t, result.Graph)
	require.Len(t, result.Graph.Nodes, 2)

	var exploredEdges int
	for _, node := range result.Graph.Nodes {
		for _, edge := range node.Edges {
			if edge.Status == schemas.EdgeExplored {
				exploredEdges++
				assert.NotEmpty(t, edge.TargetID)
			}
		}
	}
	assert.Equal(t, 1, exploredEdges)
}

func TestLLMExploreEscalatesUncertainBranch(t *testing.T) {
	// Two indistinguishable buttons: equal scores, no call-to-action text, no
	// navigation hrefs. The heuristic tier cannot break the tie.
	pages := map[string]*fakePage{
		"https://example.com/": {
			title: "Home",
			elements: []schemas.ElementDescriptor{
				{Selector: "#alpha", Tag: "button", Text: "alpha", IsVisible: true},
				{Selector: "#beta", Tag: "button", Text: "beta", IsVisible: true},
			},
			clickTargets: map[string]string{
				"#alpha": "https://example.com/alpha",
				"#beta":  "https://example.com/beta",
			},
		},
		"https://example.com/alpha": {title: "Alpha"},
		"https://example.com/beta":  {title: "Beta"},
	}

	driver := newFakeDriver(pages)
	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	llm := &llmMock{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		`{"decisions":[{"selector":"#beta","action_type":"click","rank":1,"rationale":"beta first"}],"branch_exhausted":false}`, nil).Once()

	e := NewLLMWithClient(driver, cov, states, bud, llm, cfg, nil)
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{})

	llm.AssertExpectations(t)
	require.NotEmpty(t, driver.clicked)
	assert.Equal(t, "#beta", driver.clicked[0], "the LLM's ranked pick executes first")
	assert.Equal(t, schemas.ReasonCoverageComplete, result.TerminationReason)
	require.NotNil(t, result.Graph)
	assert.Len(t, result.Graph.Nodes, 3)
}

func TestLLMExploreAppliesInteractionHintToFill(t *testing.T) {
	// Two indistinguishable text inputs force escalation; the model's hint
	// for the chosen field must become the typed value.
	pages := map[string]*fakePage{
		"https://example.com/": {
			title: "Home",
			elements: []schemas.ElementDescriptor{
				{Selector: "#alpha", Tag: "input", InputType: "text", IsVisible: true},
				{Selector: "#beta", Tag: "input", InputType: "text", IsVisible: true},
			},
		},
	}
	driver := newFakeDriver(pages)
	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	llm := &llmMock{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		`{"decisions":[{"selector":"#beta","action_type":"fill","rank":1,"rationale":"promo field","interaction_hint":"SAVE20"}],"branch_exhausted":false}`, nil).Once()
	// Subsequent value-synthesis calls fail; defaults take over.
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("llm unavailable"))

	e := NewLLMWithClient(driver, cov, states, bud, llm, cfg, nil)
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{})

	require.Contains(t, driver.fills, "#beta")
	assert.Equal(t, "SAVE20", driver.fills["#beta"])
	assert.Equal(t, schemas.ReasonCoverageComplete, result.TerminationReason)
}

func TestLLMExploreRecordsFailedEdges(t *testing.T) {
	pages := map[string]*fakePage{
		"https://example.com/": {
			title: "Home",
			elements: []schemas.ElementDescriptor{
				{Selector: "#broken", Tag: "a", Text: "Broken", Href: "https://example.com/broken", IsVisible: true},
			},
		},
	}
	driver := newFakeDriver(pages)
	driver.failClick["#broken"] = errors.New("could not find node for selector #broken")

	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	e := NewLLMWithClient(driver, cov, states, bud, &llmMock{}, cfg, nil)
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{})

	// The only edge fails softly; the node derives exhausted and the run ends
	// with the root fully resolved.
	assert.Equal(t, schemas.ReasonCoverageComplete, result.TerminationReason)
	require.NotNil(t, result.Graph)
	require.Len(t, result.Graph.Nodes, 1)

	node := result.Graph.Nodes[0]
	assert.Equal(t, schemas.StatusExhausted, node.Status)
	require.Len(t, node.Edges, 1)
	assert.Equal(t, schemas.EdgeFailed, node.Edges[0].Status)
	require.NotEmpty(t, result.Steps)
	assert.Contains(t, result.Steps[0].Error, "could not find node")
}

func TestLLMExploreManualStop(t *testing.T) {
	driver := newFakeDriver(singleLinkSite())
	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	e := NewLLMWithClient(driver, cov, states, bud, &llmMock{}, cfg, nil)
	e.Stop()
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{})

	assert.Equal(t, schemas.ReasonManualStop, result.TerminationReason)
	assert.Empty(t, result.Steps)
}

func TestLLMExploreReplaysPathOnBacktrack(t *testing.T) {
	// Three-level chain: home -> mid -> leaf. Backtracking from the leaf must
	// replay the full route, not a single hop.
	pages := map[string]*fakePage{
		"https://example.com/": {
			title: "Home",
			elements: []schemas.ElementDescriptor{
				{Selector: "#to-mid", Tag: "a", Text: "Mid", Href: "https://example.com/mid", IsVisible: true},
			},
			clickTargets: map[string]string{"#to-mid": "https://example.com/mid"},
		},
		"https://example.com/mid": {
			title: "Mid",
			elements: []schemas.ElementDescriptor{
				{Selector: "#to-leaf", Tag: "a", Text: "Leaf", Href: "https://example.com/leaf", IsVisible: true},
			},
			clickTargets: map[string]string{"#to-leaf": "https://example.com/leaf"},
		},
		"https://example.com/leaf": {title: "Leaf"},
	}

	driver := newFakeDriver(pages)
	cfg := explorerTestConfig()
	cov, states, bud := freshTrackers(cfg)

	e := NewLLMWithClient(driver, cov, states, bud, &llmMock{}, cfg, nil)
	result := e.Explore(context.Background(), "https://example.com/", schemas.ExplorationCallbacks{})

	assert.Equal(t, schemas.ReasonCoverageComplete, result.TerminationReason)
	require.NotNil(t, result.Graph)
	assert.Len(t, result.Graph.Nodes, 3)

	// The leaf's pop replays home -> mid; mid's pop replays home again.
	var rootOpens int
	for _, u := range driver.opened {
		if u == "https://example.com/" {
			rootOpens++
		}
	}
	assert.GreaterOrEqual(t, rootOpens, 3, "initial open plus one replay per pop")
}
