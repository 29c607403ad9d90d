// File: internal/decision/smartinteraction.go
// SmartInteraction synthesizes the value to type into a fill target. The
// classifier and defaults are deterministic; the LLM only refines the value
// when available, and its failures fall back to the defaults.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

const interactionSystemPrompt = `You synthesize realistic input values for form fields during
automated web-UI exploration. Given a field description, respond with a single JSON object:
{"value": "...", "wait_for_ms": 1000, "expectation": "...", "press_enter_after": false}
Values must be plausible but clearly synthetic test data. Never produce real personal data.`

// SmartInteraction plans fill values for search/login/filter/form targets.
type SmartInteraction struct {
	client schemas.LLMClient
	log    *zap.Logger
}

// NewSmartInteraction creates the planner. A nil client is valid; every plan
// then uses the deterministic defaults.
func NewSmartInteraction(client schemas.LLMClient, logger *zap.Logger) *SmartInteraction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SmartInteraction{
		client: client,
		log:    logger.Named("SmartInteraction"),
	}
}

// Classify buckets a fill target from its selector, placeholder, aria-label
// and input type.
func Classify(el schemas.ElementDescriptor) schemas.InteractionKind {
	text := strings.ToLower(strings.Join([]string{
		el.Selector, el.Placeholder, el.AriaLabel, el.Text, el.InputType,
	}, " "))

	switch {
	case strings.Contains(text, "search") || strings.Contains(text, "query") || el.InputType == "search":
		return schemas.InteractionSearch
	case strings.Contains(text, "password") || strings.Contains(text, "login") ||
		strings.Contains(text, "email") || strings.Contains(text, "username") ||
		el.InputType == "password" || el.InputType == "email":
		return schemas.InteractionLogin
	case strings.Contains(text, "filter") || strings.Contains(text, "sort") ||
		strings.Contains(text, "min") || strings.Contains(text, "max") || el.Tag == "select":
		return schemas.InteractionFilter
	default:
		return schemas.InteractionForm
	}
}

// defaultPlan returns the deterministic value for a classified target.
func defaultPlan(kind schemas.InteractionKind, el schemas.ElementDescriptor) schemas.InteractionPlan {
	plan := schemas.InteractionPlan{
		Kind:    kind,
		WaitFor: time.Second,
	}

	switch kind {
	case schemas.InteractionSearch:
		plan.Value = "test"
		plan.PressEnterAfter = true
		plan.WaitFor = 2 * time.Second
		plan.Expectation = "result list updates"
	case schemas.InteractionLogin:
		if el.InputType == "password" {
			plan.Value = "Test-Passw0rd!"
		} else {
			plan.Value = "test@example.com"
		}
		plan.Expectation = "field accepts the credential"
	case schemas.InteractionFilter:
		plan.Value = "1"
		plan.WaitFor = 1500 * time.Millisecond
		plan.Expectation = "visible items change"
	default:
		switch el.InputType {
		case "email":
			plan.Value = "test@example.com"
		case "tel":
			plan.Value = "+15550100000"
		case "number":
			plan.Value = "42"
		case "url":
			plan.Value = "https://example.com"
		case "date":
			plan.Value = "2024-01-15"
		default:
			plan.Value = "test input"
		}
		plan.Expectation = "form accepts the value"
	}
	return plan
}

// Plan produces the interaction for a fill target. The hint, when present,
// short-circuits the LLM round-trip entirely.
func (s *SmartInteraction) Plan(ctx context.Context, el schemas.ElementDescriptor, hint string) schemas.InteractionPlan {
	kind := Classify(el)
	plan := defaultPlan(kind, el)

	if hint != "" {
		plan.Value = hint
		return plan
	}
	if s.client == nil {
		return plan
	}

	refined, err := s.refine(ctx, kind, el)
	if err != nil {
		s.log.Warn("Smart interaction fell back to default value",
			zap.String("kind", string(kind)),
			zap.String("selector", el.Selector),
			zap.Error(err))
		return plan
	}

	plan.Value = refined.Value
	plan.PressEnterAfter = refined.PressEnterAfter
	if refined.WaitForMs > 0 {
		plan.WaitFor = time.Duration(refined.WaitForMs) * time.Millisecond
	}
	if refined.Expectation != "" {
		plan.Expectation = refined.Expectation
	}
	return plan
}

func (s *SmartInteraction) refine(ctx context.Context, kind schemas.InteractionKind, el schemas.ElementDescriptor) (*schemas.SmartInteractionResponse, error) {
	fieldJSON, err := json.Marshal(el)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal element descriptor: %w", err)
	}

	raw, err := s.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: interactionSystemPrompt,
		UserPrompt:   fmt.Sprintf("Field kind: %s\nField descriptor:\n%s\n\nRespond with a single JSON object.", kind, fieldJSON),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.4,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, err
	}

	payload := extractJSON(raw)
	var resp schemas.SmartInteractionResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted JSON: %w", err)
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}
