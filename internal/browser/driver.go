// File: internal/browser/driver.go
// Chromedp-backed implementation of the schemas.BrowserDriver collaborator.
// One Driver owns one browser tab; the exploration loop drives it strictly
// sequentially.
package browser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/config"
)

// Driver implements schemas.BrowserDriver on a chromedp session.
type Driver struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger

	obsMu         sync.Mutex
	netRequests   []string
	consoleErrors []string
}

var _ schemas.BrowserDriver = (*Driver)(nil)

// New launches a browser and opens a fresh tab.
func New(parentCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driverID := uuid.New().String()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	d := &Driver{
		id:          driverID,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger.Named("BrowserDriver").With(zap.String("driver_id", driverID)),
	}

	// Subscribe before the first Run so page-load traffic is not missed.
	chromedp.ListenTarget(ctx, d.collectEvent)

	// Establish the target now so later failures surface here, not mid-run.
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		if err := d.SetViewportSize(ctx, cfg.ViewportWidth, cfg.ViewportHeight); err != nil {
			d.logger.Warn("Failed to set initial viewport size", zap.Error(err))
		}
	}

	return d, nil
}

// run executes chromedp actions against the session, bounded by the caller's
// context.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(d.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Open navigates to the URL and waits for the document to become ready.
func (d *Driver) Open(ctx context.Context, url string) error {
	d.logger.Debug("Navigating", zap.String("url", url))

	navTimeout := d.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := d.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Click clicks the first element matching the selector.
func (d *Driver) Click(ctx context.Context, selector string) error {
	d.logger.Debug("Clicking element", zap.String("selector", selector))

	err := d.run(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("click action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Fill clears the element and types the value into it.
func (d *Driver) Fill(ctx context.Context, selector, value string) error {
	d.logger.Debug("Filling element", zap.String("selector", selector), zap.Int("value_length", len(value)))

	err := d.run(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("fill action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Hover moves the pointer over the element.
func (d *Driver) Hover(ctx context.Context, selector string) error {
	err := d.run(ctx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		// chromedp has no first-class hover; dispatch the events in-page.
		chromedp.Evaluate(fmt.Sprintf(`(() => {
			const el = document.querySelector(%q);
			if (!el) { throw new Error("element not found"); }
			for (const type of ["mouseover", "mouseenter", "mousemove"]) {
				el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true}));
			}
			return true;
		})()`, selector), nil),
	})
	if err != nil {
		return fmt.Errorf("hover action failed for selector '%s': %w", selector, err)
	}
	return nil
}

// Press sends a single key to the element. Key names follow chromedp/kb
// ("Enter", "Tab", "Escape", ...).
func (d *Driver) Press(ctx context.Context, selector, key string) error {
	code, ok := keyCodes[key]
	if !ok {
		code = key
	}

	err := d.run(ctx, chromedp.Tasks{
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, code, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("press action failed for selector '%s' key '%s': %w", selector, key, err)
	}
	return nil
}

var keyCodes = map[string]string{
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
	"Escape": kb.Escape,
}

// Eval executes an opaque script in the page and returns its JSON-encoded
// result.
func (d *Driver) Eval(ctx context.Context, script string) (string, error) {
	var raw []byte
	wrapped := fmt.Sprintf("JSON.stringify((() => { return (%s); })())", script)
	if err := d.run(ctx, chromedp.Evaluate(wrapped, &raw)); err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}
	return string(raw), nil
}

// Snapshot returns the serialized outer HTML of the document.
func (d *Driver) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture DOM snapshot: %w", err)
	}
	return html, nil
}

// Screenshot writes a full-page capture to path.
func (d *Driver) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithCaptureBeyondViewport(true).Do(ctx)
		return err
	})
	if err := d.run(ctx, capture); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot to '%s': %w", path, err)
	}
	return nil
}

// CurrentURL reports the page's current location.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read current location: %w", err)
	}
	return url, nil
}

// Links returns all anchor hrefs on the current page.
func (d *Driver) Links(ctx context.Context) ([]string, error) {
	var links []string
	script := `Array.from(document.querySelectorAll("a[href]")).map(a => a.href)`
	if err := d.run(ctx, chromedp.Evaluate(script, &links)); err != nil {
		return nil, fmt.Errorf("failed to extract links: %w", err)
	}
	return links, nil
}

// SetViewportSize resizes the emulated viewport.
func (d *Driver) SetViewportSize(ctx context.Context, width, height int) error {
	err := d.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1.0, false))
	if err != nil {
		return fmt.Errorf("failed to set viewport to %dx%d: %w", width, height, err)
	}
	return nil
}

// WaitForStability polls the page snapshot until two consecutive samples over
// a quiet period agree, or the timeout elapses. The browser offers no native
// "page is done" signal, so settledness is inferred.
func (d *Driver) WaitForStability(ctx context.Context, opts schemas.StabilityOptions) (schemas.StabilityResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = d.cfg.StabilityTimeout
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	quiet := opts.QuietPeriod
	if quiet <= 0 {
		quiet = d.cfg.StabilityQuiet
	}
	if quiet <= 0 {
		quiet = 500 * time.Millisecond
	}

	start := time.Now()
	deadline := start.Add(timeout)

	prev, err := d.TakePageSnapshot(ctx)
	if err != nil {
		return schemas.StabilityResult{Waited: time.Since(start), Reason: "snapshot failed"}, err
	}
	stableSince := time.Now()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return schemas.StabilityResult{Waited: time.Since(start), Reason: "context canceled"}, ctx.Err()
		case <-time.After(poll):
		}

		cur, err := d.TakePageSnapshot(ctx)
		if err != nil {
			return schemas.StabilityResult{Waited: time.Since(start), Reason: "snapshot failed"}, err
		}

		if cur.DOMHash == prev.DOMHash && cur.URL == prev.URL {
			if time.Since(stableSince) >= quiet {
				return schemas.StabilityResult{
					IsStable: true,
					Waited:   time.Since(start),
					Reason:   "dom quiet",
				}, nil
			}
		} else {
			stableSince = time.Now()
		}
		prev = cur
	}

	return schemas.StabilityResult{
		IsStable: false,
		Waited:   time.Since(start),
		Reason:   "timeout",
	}, nil
}

// collectEvent buffers CDP network and console events between drains. It
// runs on chromedp's event goroutine and must not block.
func (d *Driver) collectEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		d.obsMu.Lock()
		d.netRequests = append(d.netRequests, e.Request.Method+" "+e.Request.URL)
		d.obsMu.Unlock()
	case *runtime.EventConsoleAPICalled:
		if e.Type != runtime.APITypeError {
			return
		}
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if len(arg.Value) > 0 {
				parts = append(parts, string(arg.Value))
			}
		}
		d.obsMu.Lock()
		d.consoleErrors = append(d.consoleErrors, strings.Join(parts, " "))
		d.obsMu.Unlock()
	case *runtime.EventExceptionThrown:
		d.obsMu.Lock()
		d.consoleErrors = append(d.consoleErrors, e.ExceptionDetails.Error())
		d.obsMu.Unlock()
	}
}

// DrainNetworkRequests hands off and clears the buffered request keys.
func (d *Driver) DrainNetworkRequests() []string {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	out := d.netRequests
	d.netRequests = nil
	return out
}

// DrainConsoleErrors hands off and clears the buffered console messages.
func (d *Driver) DrainConsoleErrors() []string {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	out := d.consoleErrors
	d.consoleErrors = nil
	return out
}

// Close tears down the tab and the browser process.
func (d *Driver) Close(ctx context.Context) error {
	d.logger.Debug("Closing browser session")
	d.cancel()
	d.allocCancel()
	return nil
}
