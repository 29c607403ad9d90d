// File: internal/browser/snapshot.go
// Page observation: the raw signals feeding state fingerprints, the light
// digest used for before/after comparison, and the pure outcome classifier.
package browser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// signalsScript extracts the fingerprint signals in one round-trip. The DOM
// skeleton keeps tag structure only; attribute and text noise would make
// every page render a "new" state.
const signalsScript = `(() => {
	const skeleton = (node, depth) => {
		if (depth > 24 || !node || node.nodeType !== 1) { return ""; }
		let out = "<" + node.tagName.toLowerCase() + ">";
		for (const child of node.children) {
			out += skeleton(child, depth + 1);
		}
		return out;
	};

	const formState = Array.from(document.querySelectorAll("form")).map(f => {
		const fields = Array.from(f.elements).map(el =>
			(el.tagName || "") + ":" + (el.type || "") + ":" + (el.name || el.id || "") + ":" + (el.value ? "filled" : "empty")
		);
		return (f.action || "") + "[" + fields.join(",") + "]";
	}).join(";");

	const dialogState = Array.from(document.querySelectorAll(
		"dialog[open], [role=dialog], [role=alertdialog], .modal.show, .modal.open"
	)).map(el => (el.tagName || "") + ":" + (el.id || el.className || "")).join(";");

	return {
		url: window.location.href,
		title: document.title || "",
		dom_skeleton: skeleton(document.body, 0),
		visible_text: (document.body ? document.body.innerText : "").slice(0, 20000),
		form_state: formState,
		dialog_state: dialogState
	};
})()`

// snapshotScript collects the comparison digest counters.
const snapshotScript = `(() => {
	return {
		url: window.location.href,
		dom: document.documentElement ? document.documentElement.outerHTML.length + ":" + document.getElementsByTagName("*").length : "",
		element_count: document.getElementsByTagName("*").length,
		text_length: document.body ? document.body.innerText.length : 0,
		dialog_count: document.querySelectorAll("dialog[open], [role=dialog], [role=alertdialog]").length
	};
})()`

// CapturePageSignals extracts the raw fingerprint signals from the live page.
func (d *Driver) CapturePageSignals(ctx context.Context) (schemas.PageSignals, error) {
	var signals schemas.PageSignals
	if err := d.run(ctx, chromedp.Evaluate(signalsScript, &signals)); err != nil {
		return schemas.PageSignals{}, fmt.Errorf("failed to capture page signals: %w", err)
	}
	return signals, nil
}

// TakePageSnapshot captures the light before/after comparison digest.
func (d *Driver) TakePageSnapshot(ctx context.Context) (schemas.PageSnapshot, error) {
	var raw struct {
		URL          string `json:"url"`
		DOM          string `json:"dom"`
		ElementCount int    `json:"element_count"`
		TextLength   int    `json:"text_length"`
		DialogCount  int    `json:"dialog_count"`
	}
	if err := d.run(ctx, chromedp.Evaluate(snapshotScript, &raw)); err != nil {
		return schemas.PageSnapshot{}, fmt.Errorf("failed to take page snapshot: %w", err)
	}

	sum := sha256.Sum256([]byte(raw.DOM))
	return schemas.PageSnapshot{
		URL:          raw.URL,
		DOMHash:      hex.EncodeToString(sum[:8]),
		ElementCount: raw.ElementCount,
		TextLength:   raw.TextLength,
		DialogCount:  raw.DialogCount,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// DetectActionOutcome classifies what an action did to the page by comparing
// the snapshots taken around it. Pure; no browser calls.
func (d *Driver) DetectActionOutcome(before, after schemas.PageSnapshot) schemas.ActionOutcome {
	return DetectOutcome(before, after)
}

// DetectOutcome is the package-level classifier behind DetectActionOutcome.
// Precedence: navigation > dialog > DOM change > no change.
func DetectOutcome(before, after schemas.PageSnapshot) schemas.ActionOutcome {
	switch {
	case after.URL != before.URL:
		return schemas.ActionOutcome{
			Type:    schemas.OutcomeNavigation,
			Details: fmt.Sprintf("%s -> %s", before.URL, after.URL),
			Success: true,
		}
	case after.DialogCount > before.DialogCount:
		return schemas.ActionOutcome{
			Type:    schemas.OutcomeDialogOpened,
			Details: fmt.Sprintf("dialog count %d -> %d", before.DialogCount, after.DialogCount),
			Success: true,
		}
	case after.DOMHash != before.DOMHash:
		return schemas.ActionOutcome{
			Type:    schemas.OutcomeDOMChange,
			Details: fmt.Sprintf("element count %d -> %d", before.ElementCount, after.ElementCount),
			Success: true,
		}
	default:
		return schemas.ActionOutcome{
			Type:    schemas.OutcomeNoChange,
			Success: false,
		}
	}
}
