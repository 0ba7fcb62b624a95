package prompt

import "strings"

// uncertaintyPhrases mark hedging replies across the supported languages.
var uncertaintyPhrases = []string{
	"i'm not sure",
	"i am not sure",
	"i don't know",
	"i do not know",
	"i'm not certain",
	"i cannot confirm",
	"no estoy seguro",
	"no estoy segura",
	"no lo sé",
	"não tenho certeza",
	"não sei",
}

// Confidence scores a reply locally: base 0.8, -0.1 when no knowledge was
// used, -0.2 when the reply hedges, +0.1 when the average knowledge
// similarity exceeds 0.8, clamped to [0,1].
func Confidence(reply string, knowledgeUsed int, avgSimilarity float64) float64 {
	score := 0.8

	if knowledgeUsed == 0 {
		score -= 0.1
	}
	lowered := strings.ToLower(reply)
	for _, phrase := range uncertaintyPhrases {
		if strings.Contains(lowered, phrase) {
			score -= 0.2
			break
		}
	}
	if avgSimilarity > 0.8 {
		score += 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
