package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a deterministic cache key from the semantically
// relevant inputs of a request. encoding/json marshals map keys in sorted
// order, so the digest is independent of insertion order: identical inputs
// always collide on the same key and any differing input produces a
// different one. The digest is truncated to 16 hex characters, which is
// plenty for a cache keyspace.
func Fingerprint(inputs map[string]any) string {
	payload, err := json.Marshal(inputs)
	if err != nil {
		// Only unserialisable values can land here; fall back to the
		// string form so the key is still deterministic.
		payload = []byte(fmt.Sprintf("%v", inputs))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:16]
}
