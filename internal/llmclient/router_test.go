package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

func TestNewRouterRequiresBothTiers(t *testing.T) {
	fast := &MockLLMClient{Name: "fast"}

	_, err := NewRouter(setupTestLogger(t), fast, nil)
	assert.Error(t, err)

	_, err = NewRouter(setupTestLogger(t), nil, fast)
	assert.Error(t, err)
}

func TestRouterDispatchesByTier(t *testing.T) {
	fast := &MockLLMClient{Name: "fast"}
	powerful := &MockLLMClient{Name: "powerful"}
	router, err := NewRouter(setupTestLogger(t), fast, powerful)
	require.NoError(t, err)

	req := createTestRequest()
	req.Tier = schemas.TierFast
	fast.On("Generate", mock.Anything, req).Return("fast answer", nil).Once()

	out, err := router.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "fast answer", out)
	fast.AssertExpectations(t)
	powerful.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRouterDefaultsToPowerful(t *testing.T) {
	fast := &MockLLMClient{Name: "fast"}
	powerful := &MockLLMClient{Name: "powerful"}
	router, err := NewRouter(setupTestLogger(t), fast, powerful)
	require.NoError(t, err)

	req := createTestRequest() // Tier left empty
	expected := req
	expected.Tier = ""
	powerful.On("Generate", mock.Anything, expected).Return("powerful answer", nil).Once()

	out, err := router.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "powerful answer", out)
	powerful.AssertExpectations(t)
}

func TestRouterPropagatesErrors(t *testing.T) {
	fast := &MockLLMClient{Name: "fast"}
	powerful := &MockLLMClient{Name: "powerful"}
	router, err := NewRouter(setupTestLogger(t), fast, powerful)
	require.NoError(t, err)

	req := createTestRequest()
	req.Tier = schemas.TierPowerful
	genErr := errors.New("quota exceeded")
	powerful.On("Generate", mock.Anything, req).Return("", genErr).Once()

	_, err = router.Generate(context.Background(), req)
	assert.ErrorIs(t, err, genErr)
}

func TestRouterCloseClosesEachClientOnce(t *testing.T) {
	shared := &MockLLMClient{Name: "shared"}
	router, err := NewRouter(setupTestLogger(t), shared, shared)
	require.NoError(t, err)

	shared.On("Close").Return(nil).Once()
	require.NoError(t, router.Close())
	shared.AssertExpectations(t)
}
