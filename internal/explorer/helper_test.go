package explorer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/browser"
	"github.com/kestrelhq/wayfarer/internal/budget"
	"github.com/kestrelhq/wayfarer/internal/config"
	"github.com/kestrelhq/wayfarer/internal/coverage"
	"github.com/kestrelhq/wayfarer/internal/scope"
	"github.com/kestrelhq/wayfarer/internal/selector"
	"github.com/kestrelhq/wayfarer/internal/statetrack"
)

// fakePage models one deterministic application state for the fake driver.
type fakePage struct {
	title          string
	elements       []schemas.ElementDescriptor
	clickTargets   map[string]string   // selector -> URL the click navigates to
	clickMutations map[string]string   // selector -> new title (in-page change)
	networkOnClick map[string][]string // selector -> request keys the click triggers
	consoleOnClick map[string][]string // selector -> console errors the click triggers
}

// fakeDriver is a scripted in-memory BrowserDriver. Pages and transitions
// are declared up front; every observation is derived from the current URL.
type fakeDriver struct {
	mu             sync.Mutex
	pages          map[string]*fakePage
	current        string
	failClick      map[string]error
	opened         []string
	clicked        []string
	fills          map[string]string
	pendingNet     []string
	pendingConsole []string
}

var _ schemas.BrowserDriver = (*fakeDriver)(nil)

func newFakeDriver(pages map[string]*fakePage) *fakeDriver {
	return &fakeDriver{
		pages:     pages,
		failClick: make(map[string]error),
		fills:     make(map[string]string),
	}
}

func (d *fakeDriver) page() *fakePage {
	if p, ok := d.pages[d.current]; ok {
		return p
	}
	return &fakePage{}
}

func (d *fakeDriver) Open(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, url)
	d.current = url
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicked = append(d.clicked, selector)
	if err, ok := d.failClick[selector]; ok {
		return err
	}
	p := d.page()
	d.pendingNet = append(d.pendingNet, p.networkOnClick[selector]...)
	d.pendingConsole = append(d.pendingConsole, p.consoleOnClick[selector]...)
	if title, ok := p.clickMutations[selector]; ok {
		p.title = title
	}
	if target, ok := p.clickTargets[selector]; ok {
		d.current = target
	}
	return nil
}

func (d *fakeDriver) Fill(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fills[selector] = value
	return nil
}
func (d *fakeDriver) Hover(ctx context.Context, selector string) error       { return nil }
func (d *fakeDriver) Press(ctx context.Context, selector, key string) error  { return nil }

func (d *fakeDriver) Eval(ctx context.Context, script string) (string, error) {
	return "null", nil
}

func (d *fakeDriver) Snapshot(ctx context.Context) (string, error) {
	return "<html></html>", nil
}

func (d *fakeDriver) Screenshot(ctx context.Context, path string) error { return nil }

func (d *fakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *fakeDriver) Links(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var links []string
	for _, el := range d.page().elements {
		if el.Href != "" {
			links = append(links, el.Href)
		}
	}
	return links, nil
}

func (d *fakeDriver) ExtractInteractables(ctx context.Context) ([]schemas.ElementDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.page().elements, nil
}

func (d *fakeDriver) SetViewportSize(ctx context.Context, width, height int) error { return nil }

func (d *fakeDriver) WaitForStability(ctx context.Context, opts schemas.StabilityOptions) (schemas.StabilityResult, error) {
	return schemas.StabilityResult{IsStable: true, Reason: "dom quiet"}, nil
}

func (d *fakeDriver) TakePageSnapshot(ctx context.Context) (schemas.PageSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.page()
	sum := sha256.Sum256([]byte(d.current + p.title))
	return schemas.PageSnapshot{
		URL:          d.current,
		DOMHash:      hex.EncodeToString(sum[:8]),
		ElementCount: len(p.elements),
	}, nil
}

func (d *fakeDriver) CapturePageSignals(ctx context.Context) (schemas.PageSignals, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.page()
	return schemas.PageSignals{
		URL:         d.current,
		Title:       p.title,
		DOMSkeleton: fmt.Sprintf("<body>%d</body>", len(p.elements)),
		VisibleText: p.title + " " + d.current,
	}, nil
}

func (d *fakeDriver) DetectActionOutcome(before, after schemas.PageSnapshot) schemas.ActionOutcome {
	return browser.DetectOutcome(before, after)
}

func (d *fakeDriver) DrainNetworkRequests() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pendingNet
	d.pendingNet = nil
	return out
}

func (d *fakeDriver) DrainConsoleErrors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pendingConsole
	d.pendingConsole = nil
	return out
}

func (d *fakeDriver) Close(ctx context.Context) error { return nil }

// singleLinkSite is a two-page site: the start page carries exactly one
// actionable link leading to a dead-end page.
func singleLinkSite() map[string]*fakePage {
	return map[string]*fakePage{
		"https://example.com/": {
			title: "Home",
			elements: []schemas.ElementDescriptor{
				{
					Selector:  "#only-link",
					Tag:       "a",
					Text:      "Docs",
					Href:      "https://example.com/docs",
					IsVisible: true,
				},
			},
			clickTargets: map[string]string{"#only-link": "https://example.com/docs"},
		},
		"https://example.com/docs": {title: "Docs"},
	}
}

func explorerTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Explorer.MaxTotalSteps = 50
	cfg.Explorer.StagnationThreshold = 20
	return cfg
}

func freshTrackers(cfg *config.Config) (*coverage.Tracker, *statetrack.Tracker, *budget.Tracker) {
	limits := budget.Limits{
		MaxTotalSteps:       cfg.Explorer.MaxTotalSteps,
		MaxUniqueStates:     cfg.Explorer.MaxUniqueStates,
		MaxDepth:            cfg.Explorer.MaxDepth,
		StagnationThreshold: cfg.Explorer.StagnationThreshold,
	}
	return coverage.New(nil), statetrack.New(nil), budget.New(limits, nil)
}

func selectorContext() selector.Context {
	return selector.Context{VisitedURLs: make(map[string]bool)}
}

func mustScope(t *testing.T, startURL string) *scope.Manager {
	t.Helper()
	sc, err := scope.NewManager(startURL, true)
	require.NoError(t, err)
	return sc
}

// logRecorder captures the callback log stream for assertions.
type logRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *logRecorder) callback() func(string, string) {
	return func(msg, level string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.entries = append(r.entries, msg)
	}
}

func (r *logRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}
