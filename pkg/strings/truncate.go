// Package strings holds small text helpers for log and terminal output.
package strings

import (
	"strings"
)

// ellipsis marks truncated text.
const ellipsis = "..."

// SingleLine truncates s to at most maxLen runes, ellipsis included, after
// collapsing every run of whitespace (newlines too) into one space. Server
// error bodies and descriptions end up in one log line or table cell this way.
// maxLen is raised to leave room for at least one rune before the ellipsis.
func SingleLine(s string, maxLen int) string {
	if maxLen < len(ellipsis)+1 {
		maxLen = len(ellipsis) + 1
	}

	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-len(ellipsis)]) + ellipsis
	}
	return s
}
