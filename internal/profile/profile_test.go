package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONVERSIA_AI_LLM_PROVIDER",
		"CONVERSIA_AI_LLM_API_KEY",
		"CONVERSIA_AI_LLM_BASE_URL",
		"CONVERSIA_AI_LLM_MODEL",
		"CONVERSIA_AI_LLM_MODEL_CHEAP",
		"CONVERSIA_AI_LLM_MODEL_REASONING",
		"CONVERSIA_AI_LLM_MODEL_LARGE_CONTEXT",
		"CONVERSIA_AI_EMBEDDING_API_KEY",
		"CONVERSIA_SECRET",
		"CONVERSIA_CACHE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.Equal(t, "gpt-4o", p.LLMModel)
	assert.Equal(t, 120, p.LLMTimeout)
	assert.False(t, p.AIEnabled)
	assert.Empty(t, p.LLMModelCheap)
	assert.Empty(t, p.LLMModelReasoning)
	assert.Empty(t, p.LLMModelLargeContext)
	assert.Equal(t, "text-embedding-3-small", p.EmbeddingModel)
	assert.Equal(t, 1536, p.EmbeddingDim)
}

func TestFromEnvProviderDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERSIA_AI_LLM_PROVIDER", "deepseek")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.deepseek.com", p.LLMBaseURL)
	assert.Equal(t, "deepseek-chat", p.LLMModel)
}

func TestFromEnvUnknownProviderFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERSIA_AI_LLM_PROVIDER", "mystery")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
}

func TestFromEnvReadsTierOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONVERSIA_AI_LLM_MODEL_CHEAP", "gpt-4o-mini")
	t.Setenv("CONVERSIA_AI_LLM_MODEL_REASONING", "o3")
	t.Setenv("CONVERSIA_AI_LLM_MODEL_LARGE_CONTEXT", "gpt-4.1")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "gpt-4o-mini", p.LLMModelCheap)
	assert.Equal(t, "o3", p.LLMModelReasoning)
	assert.Equal(t, "gpt-4.1", p.LLMModelLargeContext)
}

func TestIsAIEnabled(t *testing.T) {
	assert.False(t, (&Profile{}).IsAIEnabled())
	assert.True(t, (&Profile{LLMAPIKey: "sk-test"}).IsAIEnabled())
}

func TestValidateRequiresSecretInProd(t *testing.T) {
	p := &Profile{Mode: "prod", Driver: "sqlite", Data: t.TempDir()}
	assert.Error(t, p.Validate())
}

func TestValidateDevSecretFallback(t *testing.T) {
	p := &Profile{Mode: "dev", Driver: "sqlite", Data: t.TempDir()}
	require.NoError(t, p.Validate())
	assert.NotEmpty(t, p.Secret)
	assert.NotEmpty(t, p.DSN)
}
