// Package strutil provides small string helpers shared across the engine.
package strutil

import (
	"strings"
	"unicode"
)

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// EstimateTokens approximates the token count of a prompt segment as the
// character count divided by four, rounded up. All budget accounting in the
// engine uses this same estimate so sections stay comparable.
func EstimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// NormalizePhone reduces a phone number to a canonical form: an optional
// leading "+" followed by digits only. Customer identity lookups key on the
// normalized form so "+55 (11) 98765-4321" and "5511987654321" collide.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CollapseSpace trims the string and folds internal whitespace runs into a
// single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
