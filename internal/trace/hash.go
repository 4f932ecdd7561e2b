package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash returns the sha256 hex digest of canonicalEncoding,
// which must already be a canonical encoding (e.g. from
// ExecutionTrace.CanonicalJSON) so the digest is stable across
// architectures and independent of event recording order.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
