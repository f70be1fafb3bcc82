// Package auth provides token digests for bearer-token comparison.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex sha256 digest of a bearer token. Comparing
// digests keeps raw tokens out of logs and query strings.
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
