// File: internal/browser/context_utils.go
package browser

import "context"

// combineContext derives a context from ctx1 (the session context carrying
// the CDP connection values) that is canceled when either ctx1 or ctx2 (the
// operational context carrying the deadline) is done. chromedp needs the
// session context's values, so the derivation order matters.
func combineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
