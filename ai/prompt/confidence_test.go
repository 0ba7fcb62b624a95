package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		knowledgeUsed int
		avgSimilarity float64
		want          float64
	}{
		{"base with knowledge", "The shirt costs $29.99.", 3, 0.5, 0.8},
		{"no knowledge", "The shirt costs $29.99.", 0, 0, 0.7},
		{"uncertainty phrase", "I'm not sure about that.", 3, 0.5, 0.6},
		{"high similarity bonus", "The shirt costs $29.99.", 3, 0.85, 0.9},
		{"similarity at threshold gets no bonus", "Sure.", 3, 0.8, 0.8},
		{"stacked penalties", "I don't know.", 0, 0, 0.5},
		{"uncertainty in spanish", "No estoy seguro de eso.", 3, 0.5, 0.6},
		{"multiple phrases penalized once", "I'm not sure, I don't know.", 3, 0.5, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.reply, tt.knowledgeUsed, tt.avgSimilarity), 1e-9)
		})
	}
}
