// Package routing selects the provider and model for a turn and walks the
// failover chain when the pick fails. The routing decision itself is a pure
// function of the request shape; only the health window is stateful.
package routing

import "strings"

// Keywords in the last user message that indicate a request needing deeper
// reasoning.
var complexKeywords = []string{
	"compare", "difference", "versus", "explain", "why", "how does",
	"recommend", "best option", "pros and cons", "alternative",
	"calculate", "refund policy", "warranty", "installment",
}

// Complexity scores a turn in [0,1] as the clamped sum of four factors:
// conversation length (<=0.2), total message length (<=0.2), complex
// keywords in the last user message (<=0.3), and question marks plus last
// message length (<=0.3). Deterministic for identical inputs.
func Complexity(historyLen int, totalChars int, lastUserMessage string) float64 {
	score := 0.0

	// Longer conversations accumulate unresolved threads. 20+ messages
	// saturates the factor.
	conv := float64(historyLen) * 0.01
	if conv > 0.2 {
		conv = 0.2
	}
	score += conv

	// 5,000+ total characters saturates.
	length := float64(totalChars) / 5000 * 0.2
	if length > 0.2 {
		length = 0.2
	}
	score += length

	lower := strings.ToLower(lastUserMessage)
	keywords := 0.0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			keywords += 0.1
		}
	}
	if keywords > 0.3 {
		keywords = 0.3
	}
	score += keywords

	questions := float64(strings.Count(lastUserMessage, "?")) * 0.1
	if questions > 0.2 {
		questions = 0.2
	}
	last := float64(len([]rune(lastUserMessage))) / 1000 * 0.1
	if last > 0.1 {
		last = 0.1
	}
	ql := questions + last
	if ql > 0.3 {
		ql = 0.3
	}
	score += ql

	if score > 1 {
		score = 1
	}
	return score
}
