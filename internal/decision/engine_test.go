package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockLLM) Close() error {
	args := m.Called()
	return args.Error(0)
}

func engineCandidates() []schemas.ActionCandidate {
	return []schemas.ActionCandidate{
		candidate("#pricing", "Pricing", 0.6),
		candidate("#blog", "Blog", 0.55),
		candidate("#about", "About", 0.5),
	}
}

func TestDecideFollowsRankedResponse(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(`{
		"decisions": [
			{"selector": "#blog", "action_type": "click", "rank": 1, "rationale": "blog likely links deeper"},
			{"selector": "#about", "action_type": "click", "rank": 2}
		],
		"branch_exhausted": false
	}`, nil).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "Home", engineCandidates(), schemas.CoverageContext{}, nil)

	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, "llm_ranked", d.Rule)
	require.NotNil(t, d.Candidate)
	assert.Equal(t, "#blog", d.Candidate.Selector)
	llm.AssertExpectations(t)
}

func TestDecideHandlesMarkdownFencedJSON(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		"Here is my choice:\n```json\n{\"decisions\":[{\"selector\":\"#pricing\",\"action_type\":\"click\",\"rank\":1}],\"branch_exhausted\":false}\n```", nil).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, "#pricing", d.Candidate.Selector)
}

func TestDecideBranchExhausted(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		`{"decisions":[],"branch_exhausted":true,"exhausted_reason":"all links revisit known pages"}`, nil).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	assert.Equal(t, schemas.DecisionBacktrack, d.Type)
	assert.Equal(t, "llm_branch_exhausted", d.Rule)
	assert.Contains(t, d.Rationale, "known pages")
}

func TestDecideFallsBackOnTransportError(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("deadline exceeded")).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	require.Equal(t, schemas.DecisionSelectAction, d.Type)
	assert.Equal(t, fallbackRule, d.Rule)
	assert.Equal(t, "#pricing", d.Candidate.Selector, "fallback picks the pre-ranked top candidate")
}

func TestDecideFallsBackOnMalformedJSON(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("I would click the blog link.", nil).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	assert.Equal(t, fallbackRule, d.Rule)
}

func TestDecideFallsBackOnUnknownSelector(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		`{"decisions":[{"selector":"#ghost","action_type":"click","rank":1}],"branch_exhausted":false}`, nil).Once()

	e := NewEngine(gateConfig(), llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	assert.Equal(t, fallbackRule, d.Rule)
}

func TestDecideTruncatesToTopK(t *testing.T) {
	cfg := gateConfig()
	cfg.TopK = 2

	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		// The prompt must not carry the third candidate.
		return !strings.Contains(req.UserPrompt, "#about") && strings.Contains(req.UserPrompt, "#pricing")
	})).Return(`{"decisions":[{"selector":"#pricing","rank":1}],"branch_exhausted":false}`, nil).Once()

	e := NewEngine(cfg, llm, zap.NewNop())
	d := e.Decide(context.Background(), "https://example.com", "", engineCandidates(), schemas.CoverageContext{}, nil)

	assert.Equal(t, schemas.DecisionSelectAction, d.Type)
	llm.AssertExpectations(t)
}

func TestDecideNoCandidatesBacktracksWithoutLLM(t *testing.T) {
	llm := &mockLLM{}
	e := NewEngine(gateConfig(), llm, zap.NewNop())

	d := e.Decide(context.Background(), "https://example.com", "", nil, schemas.CoverageContext{}, nil)
	assert.Equal(t, schemas.DecisionBacktrack, d.Type)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}
