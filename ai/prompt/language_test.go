package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	allowed := []string{"en", "es", "pt"}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"english", "Hello, what is the price of this shirt?", "en"},
		{"spanish", "Hola, ¿cuánto cuesta el envío? Gracias", "es"},
		{"portuguese", "Olá, quanto custa o frete? Obrigado", "pt"},
		{"no signal falls back to first allowed", "xyzzy 12345", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguage(tt.text, allowed))
		})
	}
}

func TestDetectLanguageRespectsAllowedList(t *testing.T) {
	// Spanish text, but the tenant only allows English and Portuguese.
	got := DetectLanguage("Hola, ¿cuánto cuesta?", []string{"en", "pt"})
	assert.NotEqual(t, "es", got)
}

func TestDetectLanguageEmptyAllowed(t *testing.T) {
	assert.Equal(t, "es", DetectLanguage("Hola, gracias, quiero el precio", nil))
	assert.Equal(t, "en", DetectLanguage("", nil))
}

func TestDetectLanguageUnsupportedCode(t *testing.T) {
	// Unsupported codes are skipped; detection still works over the rest.
	assert.Equal(t, "en", DetectLanguage("what is the price", []string{"fr", "en"}))
	// All unsupported falls back to English.
	assert.Equal(t, "en", DetectLanguage("bonjour", []string{"fr"}))
}
