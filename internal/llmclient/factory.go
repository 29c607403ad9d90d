package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

// ProviderGemini is the only provider currently wired.
const ProviderGemini = "gemini"

// NewClient builds the tiered LLM client stack from configuration: one client
// per model tier behind a router. When no fast model is configured both tiers
// share the main model's client.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case ProviderGemini:
		powerful, err := NewGeminiClient(cfg, cfg.Model, logger)
		if err != nil {
			return nil, err
		}

		var fast schemas.LLMClient = powerful
		if cfg.FastModel != "" && cfg.FastModel != cfg.Model {
			fastClient, err := NewGeminiClient(cfg, cfg.FastModel, logger)
			if err != nil {
				return nil, err
			}
			fast = fastClient
		}

		return NewRouter(logger, fast, powerful)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s]", cfg.Provider, ProviderGemini)
	}
}
