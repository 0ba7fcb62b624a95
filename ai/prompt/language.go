package prompt

import "strings"

// Supported language codes for the language lock.
const (
	LanguageEnglish    = "en"
	LanguageSpanish    = "es"
	LanguagePortuguese = "pt"
)

// languageMarkers holds high-frequency function words per language. Detection
// is a stopword vote; distinctive words (qué/que, precio/preço, usted/você)
// break the near-ties between Spanish and Portuguese.
var languageMarkers = map[string][]string{
	LanguageEnglish: {
		"the", "and", "you", "have", "what", "how", "can", "please",
		"hello", "thanks", "want", "price", "with", "for", "this",
		"that", "there", "are", "does", "is", "much",
	},
	LanguageSpanish: {
		"el", "los", "las", "una", "tiene", "qué", "cómo", "cuánto",
		"precio", "hola", "gracias", "usted", "quiero", "tienen",
		"con", "cuesta", "dónde", "necesito", "buenos", "días",
	},
	LanguagePortuguese: {
		"os", "uma", "tem", "que", "como", "quanto", "preço", "olá",
		"obrigado", "obrigada", "você", "quero", "têm", "com",
		"custa", "onde", "preciso", "bom", "dia", "não",
	},
}

var languageNames = map[string]string{
	LanguageEnglish:    "English",
	LanguagePortuguese: "Portuguese",
	LanguageSpanish:    "Spanish",
}

// DetectLanguage picks the best-matching language for text from the tenant's
// allowed list. Unsupported codes in allowed are skipped; ties favor the
// earlier allowed entry; no signal at all falls back to the first allowed
// language, or English.
func DetectLanguage(text string, allowed []string) string {
	if len(allowed) == 0 {
		allowed = []string{LanguageEnglish, LanguageSpanish, LanguagePortuguese}
	}

	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,!?¿¡:;\"'()")] = true
	}

	best, bestScore := "", 0
	for _, code := range allowed {
		markers, ok := languageMarkers[code]
		if !ok {
			continue
		}
		score := 0
		for _, m := range markers {
			if words[m] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = code, score
		}
	}
	if best != "" {
		return best
	}
	if _, ok := languageMarkers[allowed[0]]; ok {
		return allowed[0]
	}
	return LanguageEnglish
}

// languageName renders a code for prompt text, falling back to the raw code.
func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
