package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversia-ai/conversia/internal/profile"
)

func TestRoutingModelsProviderDefaults(t *testing.T) {
	p := &profile.Profile{LLMProvider: "openai", LLMModel: "gpt-4o"}

	models := routingModels(p)
	assert.Equal(t, "gpt-4o", models.Default)
	assert.Equal(t, "gpt-4o-mini", models.Cheap)
	assert.Equal(t, "o4-mini", models.Reasoning)
	assert.Equal(t, "gpt-4.1", models.LargeContext)
}

func TestRoutingModelsOverridesWin(t *testing.T) {
	p := &profile.Profile{
		LLMProvider:          "openai",
		LLMModel:             "gpt-4o",
		LLMModelCheap:        "gpt-4o-mini-2024",
		LLMModelReasoning:    "o3",
		LLMModelLargeContext: "gpt-4.1-long",
	}

	models := routingModels(p)
	assert.Equal(t, "gpt-4o-mini-2024", models.Cheap)
	assert.Equal(t, "o3", models.Reasoning)
	assert.Equal(t, "gpt-4.1-long", models.LargeContext)
}

func TestRoutingModelsUnfilledTiersStayEmpty(t *testing.T) {
	// Ollama has no distinct reasoning or large-context model; the router
	// falls back to the default tier for those outcomes.
	p := &profile.Profile{LLMProvider: "ollama", LLMModel: "llama3.1"}

	models := routingModels(p)
	assert.Equal(t, "llama3.1", models.Cheap)
	assert.Empty(t, models.Reasoning)
	assert.Empty(t, models.LargeContext)
}
