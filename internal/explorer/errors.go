// File: internal/explorer/errors.go
// Action failures are classified, not uniformly propagated. Hard failures
// mean the browser session is gone and the run must stop; soft failures are
// absorbed into the step record and feed the selector's attempt decay.
package explorer

import (
	"regexp"
	"strconv"
	"strings"
)

// ErrorClass buckets an action failure by how the loop must react.
type ErrorClass int

const (
	// ErrorSoft failures are recorded and the run continues or backtracks.
	ErrorSoft ErrorClass = iota
	// ErrorHard failures terminate the run with reason "error".
	ErrorHard
)

// hardMarkers identify session-fatal failures. Retrying or backtracking
// cannot recover a dead browser.
var hardMarkers = []string{
	"target closed",
	"target crashed",
	"browser closed",
	"session closed",
	"websocket url timeout",
	"could not dial",
	"connection refused",
	"transport is closing",
	"protocol error",
	"disconnected",
	"chrome failed to start",
}

// softMarkers identify recoverable per-action failures. Anything matching
// neither list is treated as soft; an unknown failure on one element must not
// kill the whole run.
var softMarkers = []string{
	"could not find node",
	"node not found",
	"element not found",
	"not visible",
	"deadline exceeded",
	"timed out",
	"navigation failed",
	"net::err",
	"elements matched selector",
}

// Classify buckets an action error.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorSoft
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range hardMarkers {
		if strings.Contains(msg, marker) {
			return ErrorHard
		}
	}
	return ErrorSoft
}

// ambiguousSelectorRe matches failures of the shape
//
//	3 elements matched selector "#nav a"
//
// so the offending selector and match count survive into diagnostics.
var ambiguousSelectorRe = regexp.MustCompile(`(\d+)\s+elements matched selector\s+"([^"]+)"`)

// ParseAmbiguousMatch extracts the selector and match count from a
// multiple-elements-matched failure. ok is false for any other error.
func ParseAmbiguousMatch(err error) (selector string, count int, ok bool) {
	if err == nil {
		return "", 0, false
	}
	m := ambiguousSelectorRe.FindStringSubmatch(err.Error())
	if m == nil {
		return "", 0, false
	}
	count, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return "", 0, false
	}
	return m[2], count, true
}
