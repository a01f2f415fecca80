package utils

// Truncate caps s at maxLen bytes, marking the cut with an ellipsis.
// Used to keep log lines readable when replies run long.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
