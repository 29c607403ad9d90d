// File: internal/explorer/candidates.go
package explorer

import (
	"github.com/kestrelhq/wayfarer/api/schemas"
	"github.com/kestrelhq/wayfarer/internal/coverage"
	"github.com/kestrelhq/wayfarer/internal/scope"
)

// actionTypeFor maps an element to the interaction the engine exercises on
// it. Text-bearing inputs are filled; everything else clickable is clicked.
func actionTypeFor(el schemas.ElementDescriptor) schemas.ActionType {
	switch el.Tag {
	case "input":
		switch el.InputType {
		case "submit", "button", "image", "reset", "checkbox", "radio", "file":
			return schemas.ActionClick
		default:
			return schemas.ActionFill
		}
	case "textarea", "select":
		return schemas.ActionFill
	default:
		return schemas.ActionClick
	}
}

// buildCandidates turns extracted element descriptors into unscored action
// candidates. Invisible elements and anchors leaving the target scope are
// dropped here so the scorer only ever sees actionable work. Hrefs are
// resolved against baseURL and canonicalized so novelty scoring compares
// pages, not link spellings.
func buildCandidates(elements []schemas.ElementDescriptor, sc *scope.Manager, baseURL string) []schemas.ActionCandidate {
	out := make([]schemas.ActionCandidate, 0, len(elements))
	for _, el := range elements {
		if !el.IsVisible {
			continue
		}
		if el.Href != "" && sc != nil {
			normalized, err := sc.Normalize(el.Href, baseURL)
			if err != nil {
				continue
			}
			el.Href = normalized.String()
		}
		out = append(out, schemas.ActionCandidate{
			Selector: el.Selector,
			Type:     actionTypeFor(el),
			Element:  el,
		})
	}
	return out
}

// normalizeCoverageURL collapses fragment, default-port and query-order
// variants of an observed location. Falls back to the raw string when the
// URL cannot be normalized, so coverage never loses an observation.
func normalizeCoverageURL(sc *scope.Manager, raw string) string {
	if sc == nil || raw == "" {
		return raw
	}
	u, err := sc.Normalize(raw, "")
	if err != nil {
		return raw
	}
	return u.String()
}

// drainBrowserObservations moves buffered network and console events from
// the driver into the coverage dimensions they feed.
func drainBrowserObservations(d schemas.BrowserDriver, cov *coverage.Tracker) {
	for _, key := range d.DrainNetworkRequests() {
		cov.RecordNetworkRequest(key)
	}
	for _, msg := range d.DrainConsoleErrors() {
		cov.RecordConsoleError(msg)
	}
}
