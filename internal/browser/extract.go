// File: internal/browser/extract.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// extractScript enumerates interactive elements and builds a stable CSS
// selector for each. Selector preference: id > name > href > nth-of-type
// path. Runs as one evaluation to keep extraction atomic against page
// mutation.
const extractScript = `(() => {
	const cssEscape = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s.replace(/[^a-zA-Z0-9_-]/g, "\\$&");

	const selectorFor = (el) => {
		if (el.id) { return "#" + cssEscape(el.id); }
		const tag = el.tagName.toLowerCase();
		if (el.name) {
			const sel = tag + "[name=\"" + cssEscape(el.name) + "\"]";
			if (document.querySelectorAll(sel).length === 1) { return sel; }
		}
		if (tag === "a" && el.getAttribute("href")) {
			const sel = "a[href=\"" + el.getAttribute("href").replace(/"/g, "\\\"") + "\"]";
			if (document.querySelectorAll(sel).length === 1) { return sel; }
		}
		const path = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.body) {
			const t = node.tagName.toLowerCase();
			let idx = 1;
			let sib = node.previousElementSibling;
			while (sib) {
				if (sib.tagName === node.tagName) { idx++; }
				sib = sib.previousElementSibling;
			}
			path.unshift(t + ":nth-of-type(" + idx + ")");
			node = node.parentElement;
		}
		return "body > " + path.join(" > ");
	};

	const isVisible = (el) => {
		const style = window.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") { return false; }
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0;
	};

	const formHasEmptyRequired = (el) => {
		const form = el.form || el.closest("form");
		if (!form) { return false; }
		return Array.from(form.elements).some(f => f.required && !f.value && f !== el);
	};

	const isSubmitGate = (el) => {
		const form = el.form || el.closest("form");
		if (!form || !el.required) { return false; }
		return Array.from(form.elements).some(f =>
			(f.type === "submit" || f.tagName === "BUTTON") && f.disabled
		);
	};

	const nodes = document.querySelectorAll(
		"a[href], button, input, select, textarea, [role=button], [role=link], [role=tab], [role=menuitem], [onclick]"
	);

	const out = [];
	const seen = new Set();
	for (const el of nodes) {
		const selector = selectorFor(el);
		if (seen.has(selector)) { continue; }
		seen.add(selector);
		const tag = el.tagName.toLowerCase();
		out.push({
			selector: selector,
			tag: tag,
			text: (el.innerText || el.value || "").trim().slice(0, 200),
			href: tag === "a" ? (el.href || "") : "",
			placeholder: el.placeholder || "",
			aria_label: el.getAttribute("aria-label") || "",
			input_type: tag === "input" ? (el.type || "text") : "",
			role: el.getAttribute("role") || "",
			is_disabled: !!el.disabled,
			is_visible: isVisible(el),
			enables_submit_button: isSubmitGate(el),
			has_empty_required_input: formHasEmptyRequired(el)
		});
	}
	return out;
})()`

// ExtractInteractables enumerates the page's interactive elements with stable
// selectors and the context flags the scorer needs.
func (d *Driver) ExtractInteractables(ctx context.Context) ([]schemas.ElementDescriptor, error) {
	var elements []schemas.ElementDescriptor
	if err := d.run(ctx, chromedp.Evaluate(extractScript, &elements)); err != nil {
		return nil, fmt.Errorf("failed to extract interactive elements: %w", err)
	}
	d.logger.Debug("Extracted interactive elements", zap.Int("count", len(elements)))
	return elements, nil
}
