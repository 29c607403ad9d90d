// File: api/schemas/browser.go
// The browser driver collaborator boundary. The engine consumes this
// interface; the chromedp implementation lives in internal/browser.
package schemas

import (
	"context"
	"time"
)

// PageSignals are the raw observation signals a driver extracts from the live
// page. The state tracker hashes them into a StateFingerprint.
type PageSignals struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	DOMSkeleton string `json:"dom_skeleton"` // tag structure only, no text or attribute noise
	VisibleText string `json:"visible_text"`
	FormState   string `json:"form_state"`
	DialogState string `json:"dialog_state"`
}

// PageSnapshot is a lightweight page digest used for before/after comparison
// around a single action.
type PageSnapshot struct {
	URL          string    `json:"url"`
	DOMHash      string    `json:"dom_hash"`
	ElementCount int       `json:"element_count"`
	TextLength   int       `json:"text_length"`
	DialogCount  int       `json:"dialog_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// StabilityOptions bounds how long the driver waits for the page to settle.
type StabilityOptions struct {
	Timeout      time.Duration `json:"timeout"`
	PollInterval time.Duration `json:"poll_interval"`
	QuietPeriod  time.Duration `json:"quiet_period"`
}

// StabilityResult reports the outcome of a stability wait.
type StabilityResult struct {
	IsStable bool          `json:"is_stable"`
	Waited   time.Duration `json:"waited"`
	Reason   string        `json:"reason"`
}

// OutcomeType classifies what an action did to the page.
type OutcomeType string

const (
	OutcomeNavigation   OutcomeType = "navigation"
	OutcomeDOMChange    OutcomeType = "dom_change"
	OutcomeDialogOpened OutcomeType = "dialog_opened"
	OutcomeNoChange     OutcomeType = "no_change"
	OutcomeError        OutcomeType = "error"
)

// ActionOutcome is the driver-reported effect of the last executed action,
// derived from comparing the snapshots taken before and after it.
type ActionOutcome struct {
	Type    OutcomeType `json:"type"`
	Details string      `json:"details,omitempty"`
	Success bool        `json:"success"`
}

// BrowserDriver is the browser automation collaborator. All calls are awaited
// sequentially within a run; implementations need not be safe for concurrent
// use by multiple explorers.
type BrowserDriver interface {
	// Open navigates to the given URL and waits for the initial load.
	Open(ctx context.Context, url string) error
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Fill types a value into the element matching the selector.
	Fill(ctx context.Context, selector, value string) error
	// Hover moves the pointer over the element matching the selector.
	Hover(ctx context.Context, selector string) error
	// Press sends a single key (e.g. "Enter") to the element.
	Press(ctx context.Context, selector, key string) error
	// Eval executes an opaque script string in the page and returns its
	// JSON-encoded result.
	Eval(ctx context.Context, script string) (string, error)
	// Snapshot returns a textual DOM summary of the current page.
	Snapshot(ctx context.Context) (string, error)
	// Screenshot writes a full-page capture to path.
	Screenshot(ctx context.Context, path string) error
	// CurrentURL reports the page's current location.
	CurrentURL(ctx context.Context) (string, error)
	// Links returns all anchor hrefs found on the current page.
	Links(ctx context.Context) ([]string, error)
	// ExtractInteractables returns descriptors for every interactive element
	// currently on the page.
	ExtractInteractables(ctx context.Context) ([]ElementDescriptor, error)
	// SetViewportSize resizes the emulated viewport.
	SetViewportSize(ctx context.Context, width, height int) error
	// WaitForStability blocks until the page settles or the wait times out.
	WaitForStability(ctx context.Context, opts StabilityOptions) (StabilityResult, error)
	// TakePageSnapshot captures the comparison digest of the current page.
	TakePageSnapshot(ctx context.Context) (PageSnapshot, error)
	// CapturePageSignals extracts the raw fingerprint signals.
	CapturePageSignals(ctx context.Context) (PageSignals, error)
	// DetectActionOutcome classifies the effect of an action from the
	// snapshots taken around it. Pure; performs no browser calls.
	DetectActionOutcome(before, after PageSnapshot) ActionOutcome
	// DrainNetworkRequests returns "METHOD url" keys for requests observed
	// since the previous drain.
	DrainNetworkRequests() []string
	// DrainConsoleErrors returns console error and page exception messages
	// observed since the previous drain.
	DrainConsoleErrors() []string
	// Close tears the session down.
	Close(ctx context.Context) error
}
