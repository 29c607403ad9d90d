package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		el   schemas.ElementDescriptor
		want schemas.InteractionKind
	}{
		{
			name: "search by placeholder",
			el:   schemas.ElementDescriptor{Tag: "input", Placeholder: "Search products..."},
			want: schemas.InteractionSearch,
		},
		{
			name: "search by input type",
			el:   schemas.ElementDescriptor{Tag: "input", InputType: "search"},
			want: schemas.InteractionSearch,
		},
		{
			name: "login by password type",
			el:   schemas.ElementDescriptor{Tag: "input", InputType: "password"},
			want: schemas.InteractionLogin,
		},
		{
			name: "login by email selector",
			el:   schemas.ElementDescriptor{Tag: "input", Selector: "#email-address"},
			want: schemas.InteractionLogin,
		},
		{
			name: "filter by aria label",
			el:   schemas.ElementDescriptor{Tag: "input", AriaLabel: "Filter by category"},
			want: schemas.InteractionFilter,
		},
		{
			name: "select is a filter",
			el:   schemas.ElementDescriptor{Tag: "select", Selector: "#country"},
			want: schemas.InteractionFilter,
		},
		{
			name: "plain text falls through to form",
			el:   schemas.ElementDescriptor{Tag: "input", Placeholder: "Your nickname"},
			want: schemas.InteractionForm,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.el))
		})
	}
}

func TestPlanDeterministicDefaults(t *testing.T) {
	s := NewSmartInteraction(nil, zap.NewNop())
	ctx := context.Background()

	search := s.Plan(ctx, schemas.ElementDescriptor{Tag: "input", InputType: "search"}, "")
	assert.Equal(t, schemas.InteractionSearch, search.Kind)
	assert.True(t, search.PressEnterAfter, "search boxes submit with Enter")
	assert.NotEmpty(t, search.Value)

	email := s.Plan(ctx, schemas.ElementDescriptor{Tag: "input", InputType: "email", Selector: "#contact"}, "")
	assert.Equal(t, "test@example.com", email.Value)

	password := s.Plan(ctx, schemas.ElementDescriptor{Tag: "input", InputType: "password"}, "")
	assert.Equal(t, schemas.InteractionLogin, password.Kind)
	assert.NotEqual(t, "test@example.com", password.Value)
}

func TestPlanHintShortCircuitsLLM(t *testing.T) {
	llm := &mockLLM{}
	s := NewSmartInteraction(llm, zap.NewNop())

	plan := s.Plan(context.Background(), schemas.ElementDescriptor{Tag: "input", InputType: "search"}, "wireless headphones")
	assert.Equal(t, "wireless headphones", plan.Value)
	llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestPlanUsesLLMRefinement(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(
		`{"value":"laptop stand","wait_for_ms":2500,"expectation":"results filter to accessories","press_enter_after":true}`, nil).Once()

	s := NewSmartInteraction(llm, zap.NewNop())
	plan := s.Plan(context.Background(), schemas.ElementDescriptor{Tag: "input", InputType: "search"}, "")

	assert.Equal(t, "laptop stand", plan.Value)
	assert.Equal(t, 2500*time.Millisecond, plan.WaitFor)
	assert.True(t, plan.PressEnterAfter)
	llm.AssertExpectations(t)
}

func TestPlanFallsBackOnLLMFailure(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()

	s := NewSmartInteraction(llm, zap.NewNop())
	plan := s.Plan(context.Background(), schemas.ElementDescriptor{Tag: "input", InputType: "email"}, "")

	assert.Equal(t, "test@example.com", plan.Value, "defaults survive transport failures")
}

func TestPlanFallsBackOnInvalidResponse(t *testing.T) {
	llm := &mockLLM{}
	llm.On("Generate", mock.Anything, mock.Anything).Return(`{"value":"","wait_for_ms":-5}`, nil).Once()

	s := NewSmartInteraction(llm, zap.NewNop())
	plan := s.Plan(context.Background(), schemas.ElementDescriptor{Tag: "input", Placeholder: "Search"}, "")

	assert.Equal(t, "test", plan.Value)
}
