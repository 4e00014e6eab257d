// Package version implements key validation and cache-version derivation
// (component A of the transfer engine): folding a caller-supplied version
// string and the library's own major.minor into a stable, content-addressed
// fingerprint, and rejecting keys that the wire protocol cannot carry.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"arcache/internal/cacheerrors"
)

// MaxKeyBytes is the largest key the service will accept.
const MaxKeyBytes = 512

// CheckKey validates a user-supplied cache key or restore key.
func CheckKey(key string) error {
	if len(key) > MaxKeyBytes {
		return cacheerrors.InvalidKeyLength(key)
	}
	if strings.Contains(key, ",") {
		return cacheerrors.InvalidKeyComma(key)
	}
	return nil
}

// Salt binds fingerprints to this library's release line: a major/minor
// bump invalidates every previously stored entry, by design.
type Salt struct {
	Major int
	Minor int
}

// CacheVersion computes the 64-char lowercase hex SHA-256 fingerprint of
// (callerVersion, major, minor). Identical inputs under the same
// major.minor always produce the same fingerprint.
func CacheVersion(callerVersion string, s Salt) string {
	h := sha256.New()
	h.Write([]byte(callerVersion))
	h.Write([]byte("|"))
	fmt.Fprintf(h, "%d.%d", s.Major, s.Minor)
	return hex.EncodeToString(h.Sum(nil))
}

// RestoreKeysParam joins the active key and any additional restore-key
// candidates into the comma-separated form the lookup endpoint expects.
func RestoreKeysParam(key string, restoreKeys []string) string {
	all := append([]string{key}, restoreKeys...)
	return strings.Join(all, ",")
}
