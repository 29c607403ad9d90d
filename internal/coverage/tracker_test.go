package coverage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

func TestRecordDeduplicates(t *testing.T) {
	tr := New(zap.NewNop())

	assert.True(t, tr.RecordURL("https://example.com/"))
	assert.False(t, tr.RecordURL("https://example.com/"))
	assert.True(t, tr.RecordURL("https://example.com/pricing"))
	assert.False(t, tr.RecordURL(""), "empty keys are ignored")

	assert.True(t, tr.RecordForm("form#login"))
	assert.True(t, tr.RecordDialog("dialog#confirm"))
	assert.True(t, tr.RecordElementInteraction("a.nav"))
	assert.True(t, tr.RecordNetworkRequest("GET https://example.com/api"))
	assert.True(t, tr.RecordConsoleError("TypeError: x is undefined"))

	stats := tr.GetStats()
	assert.Equal(t, Stats{URLs: 2, Forms: 1, Dialogs: 1, Elements: 1, NetworkRequests: 1, ConsoleErrors: 1}, stats)
}

func TestCalculateGainSetDifference(t *testing.T) {
	tr := New(zap.NewNop())
	tr.RecordURL("https://example.com/")

	prior := tr.TakeSnapshot(0)
	require.Len(t, prior.URLs, 1)

	tr.RecordURL("https://example.com/about")
	tr.RecordForm("form#contact")

	gain := tr.CalculateGain(prior)
	assert.True(t, gain.HasGain)
	assert.Len(t, gain.NewURLs, 1)
	assert.Equal(t, "https://example.com/about", gain.NewURLs[0])
	assert.Len(t, gain.NewForms, 1)
	assert.Empty(t, gain.NewDialogs)
	assert.Equal(t, 2, gain.TotalGain)
}

func TestGainBetweenNoGrowth(t *testing.T) {
	tr := New(zap.NewNop())
	tr.RecordURL("https://example.com/")
	a := tr.TakeSnapshot(0)
	b := tr.TakeSnapshot(1)

	gain := GainBetween(a, b)
	assert.False(t, gain.HasGain)
	assert.Equal(t, 0, gain.TotalGain)
}

func TestMostEffectiveActionTypes(t *testing.T) {
	tr := New(zap.NewNop())
	now := time.Now()

	tr.RecordActionOutcome(ActionOutcomeRecord{ActionType: schemas.ActionClick, TotalGain: 2, StepIndex: 0, Timestamp: now})
	tr.RecordActionOutcome(ActionOutcomeRecord{ActionType: schemas.ActionClick, TotalGain: 0, StepIndex: 1, Timestamp: now})
	tr.RecordActionOutcome(ActionOutcomeRecord{ActionType: schemas.ActionFill, TotalGain: 3, StepIndex: 2, Timestamp: now})
	tr.RecordActionOutcome(ActionOutcomeRecord{ActionType: schemas.ActionHover, TotalGain: 0, StepIndex: 3, Timestamp: now})

	ranked := tr.MostEffectiveActionTypes()
	require.Len(t, ranked, 3)
	assert.Equal(t, schemas.ActionFill, ranked[0].ActionType)
	assert.Equal(t, 3.0, ranked[0].AverageGain)
	assert.Equal(t, schemas.ActionClick, ranked[1].ActionType)
	assert.Equal(t, 1.0, ranked[1].AverageGain)
	assert.Equal(t, schemas.ActionHover, ranked[2].ActionType)
}

func TestVisitedURLsCopy(t *testing.T) {
	tr := New(zap.NewNop())
	tr.RecordURL("https://example.com/")

	visited := tr.VisitedURLs()
	visited["https://intruder.example/"] = true

	// Mutating the returned map must not leak into the tracker.
	assert.Equal(t, 1, tr.GetStats().URLs)
}

func TestReset(t *testing.T) {
	tr := New(zap.NewNop())
	tr.RecordURL("https://example.com/")
	tr.RecordActionOutcome(ActionOutcomeRecord{ActionType: schemas.ActionClick, TotalGain: 1})

	tr.Reset()
	assert.Equal(t, Stats{}, tr.GetStats())
	assert.Empty(t, tr.MostEffectiveActionTypes())
	assert.True(t, tr.RecordURL("https://example.com/"))
}
