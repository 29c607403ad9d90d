// File: internal/statetrack/fingerprint.go
package statetrack

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/kestrelhq/wayfarer/api/schemas"
)

// hashComponent produces a short stable hash for one fingerprint signal.
func hashComponent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// NewFingerprint hashes the raw page signals into an immutable fingerprint.
// The combined hash is derived from the five component hashes, so equal
// signals always produce an identical identity regardless of capture order.
func NewFingerprint(sig schemas.PageSignals) schemas.StateFingerprint {
	urlHash := hashComponent(sig.URL)
	domHash := hashComponent(sig.DOMSkeleton)
	textHash := hashComponent(sig.VisibleText)
	formHash := hashComponent(sig.FormState)
	dialogHash := hashComponent(sig.DialogState)

	combined := hashComponent(strings.Join([]string{urlHash, domHash, textHash, formHash, dialogHash}, "|"))

	return schemas.StateFingerprint{
		URLHash:          urlHash,
		DOMStructureHash: domHash,
		VisibleTextHash:  textHash,
		FormStateHash:    formHash,
		DialogStateHash:  dialogHash,
		CombinedHash:     combined,
		Timestamp:        time.Now().UTC(),
	}
}
