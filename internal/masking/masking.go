// Package masking emits the "::add-mask::" cooperative hint line described
// in spec.md §6: when a signed archive URL is obtained, the hosting
// environment should be told to redact it from logs. This is a distinct
// channel from internal/logging's in-process redaction — the masking sink
// writes to the process's stdout, not the logger.
//
// Grounded on original_source/src/cache.rs, which prints
// `::add-mask::{shell_escape::escape(url)}` on successful lookup.
package masking

import (
	"fmt"
	"io"
	"strings"
)

// Emit writes the masking directive for url to w, shell-escaping it the
// way a POSIX single-quoted string would require.
func Emit(w io.Writer, url string) error {
	_, err := fmt.Fprintf(w, "::add-mask::%s\n", shellEscape(url))
	return err
}

// shellEscape wraps s in single quotes, replacing any embedded single
// quote with '\'' (close quote, escaped quote, reopen quote) — the
// standard POSIX shell escaping trick. A string made up entirely of
// shell-safe characters is returned unquoted, matching shell_escape::escape.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// isShellSafe reports whether s needs no quoting to survive a POSIX shell
// unchanged: letters, digits, and -_=/,.+ are the safe set.
func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '=' || r == '/' || r == ',' || r == '.' || r == '+':
		default:
			return false
		}
	}
	return true
}
