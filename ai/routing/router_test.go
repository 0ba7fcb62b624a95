package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var testModels = Models{
	Cheap:        "gpt-4o-mini",
	Default:      "gpt-4o",
	Reasoning:    "o3-mini",
	LargeContext: "gpt-4.1",
}

func TestRoute(t *testing.T) {
	tests := []struct {
		name          string
		contextTokens int
		complexity    float64
		wantModel     string
	}{
		{"large context wins", 120000, 0.9, "gpt-4.1"},
		{"exactly at threshold is not large", 100000, 0.5, "gpt-4o"},
		{"simple", 1000, 0.1, "gpt-4o-mini"},
		{"complex", 1000, 0.8, "o3-mini"},
		{"balanced", 1000, 0.5, "gpt-4o"},
		{"boundary 0.3 is default", 1000, 0.3, "gpt-4o"},
		{"boundary 0.7 is default", 1000, 0.7, "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(testModels, tt.contextTokens, tt.complexity)
			assert.Equal(t, tt.wantModel, d.Model)
			assert.NotEmpty(t, d.Reason)
			assert.Equal(t, tt.complexity, d.Complexity)
		})
	}
}

func TestRouteLargeContextReason(t *testing.T) {
	d := Route(testModels, 120000, 0.2)
	assert.True(t, strings.HasPrefix(d.Reason, "Large context - using "), d.Reason)
	assert.Contains(t, d.Reason, "gpt-4.1")
}

func TestRouteMissingTiersFallBackToDefault(t *testing.T) {
	models := Models{Default: "gpt-4o"}
	assert.Equal(t, "gpt-4o", Route(models, 200000, 0.5).Model)
	assert.Equal(t, "gpt-4o", Route(models, 100, 0.1).Model)
	assert.Equal(t, "gpt-4o", Route(models, 100, 0.9).Model)
}

func TestRouteDeterminism(t *testing.T) {
	first := Route(testModels, 50000, 0.42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Route(testModels, 50000, 0.42))
	}
}

func TestComplexity(t *testing.T) {
	assert.Zero(t, Complexity(0, 0, ""))

	// A short greeting scores low.
	simple := Complexity(2, 20, "hi")
	assert.Less(t, simple, 0.3)

	// Keywords, questions and length all push the score up.
	complexMsg := "Can you compare these two and explain the difference? " +
		"What is the best option for me? How does the warranty work?"
	hard := Complexity(30, 20000, complexMsg)
	assert.Greater(t, hard, 0.7)

	// Clamped to 1.
	assert.LessOrEqual(t, hard, 1.0)
}

func TestComplexityFactorCaps(t *testing.T) {
	// Conversation length alone cannot exceed 0.2.
	assert.InDelta(t, 0.2, Complexity(1000, 0, ""), 1e-9)

	// Keyword factor caps at 0.3 even with many keywords.
	msg := "compare difference versus explain why recommend calculate warranty"
	withKeywords := Complexity(0, 0, msg)
	without := Complexity(0, 0, strings.Repeat("a", len(msg)))
	assert.LessOrEqual(t, withKeywords-without, 0.3+1e-9)
}
