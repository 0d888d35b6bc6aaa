// Package util provides shared utility functions used across the codebase.
package util

// TruncateString truncates a string to maxLen runes, adding "..." if
// truncated. Counts runes, not visual columns, so it is suitable for the
// plain-text listings workq prints.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
