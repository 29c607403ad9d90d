package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kestrelhq/wayfarer/internal/config"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// MockLLMClient is a testify mock of the LLMClient interface.
type MockLLMClient struct {
	mock.Mock
	Name string
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// setupTestLogger creates a zap logger backed by an observer core.
func setupTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	core, _ := observer.New(zap.DebugLevel)
	return zap.New(core)
}

// getValidLLMConfig returns a usable LLMConfig for tests.
func getValidLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:          ProviderGemini,
		APIKey:            "test-api-key",
		Model:             "test-model",
		APITimeout:        5 * time.Second,
		MaxElapsed:        5 * time.Second,
		RequestsPerSecond: 1000, // keep tests fast
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              50,
	}
}

// createTestRequest provides a standard generation request.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options: schemas.GenerationOptions{
			Temperature: 0.7,
		},
	}
}
