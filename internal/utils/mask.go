package utils

import "strings"

// MaskSecret keeps the first visible characters of s and hides the rest.
// Short secrets are hidden completely.
func MaskSecret(s string) string {
	const visible = 4
	if s == "" {
		return ""
	}
	if len(s) <= visible*2 {
		return strings.Repeat("*", 5)
	}
	return s[:visible] + strings.Repeat("*", 5)
}
