// Package util holds small helpers shared across packages: safe string
// truncation for token logging and IP/hostname classification used by
// redirect URI validation.
package util

// SafeTruncate returns at most maxLen leading characters of s without
// panicking on short input. Used to log token prefixes rather than full
// token values. A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
