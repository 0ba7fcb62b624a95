package llm

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/errdef"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`))
	}))
	defer srv.Close()

	p, err := NewClient(&Config{Provider: "openai", APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	gen, err := p.Generate(context.Background(), &Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{UserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", gen.Content)
	assert.Equal(t, "stop", gen.FinishReason)
	assert.Equal(t, 12, gen.PromptTokens)
	assert.Equal(t, 4, gen.CompletionTokens)
	assert.Equal(t, 16, gen.TotalTokens)
	assert.InDelta(t, EstimateCost("gpt-4o-mini", 12, 4), gen.EstimatedCost, 1e-12)
}

func TestGenerateErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"message": "nope", "type": "test"}}`))
			}))
			defer srv.Close()

			p, err := NewClient(&Config{Provider: "openai", APIKey: "test", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), &Request{
				Model:    "gpt-4o-mini",
				Messages: []Message{UserMessage("hi")},
			})
			require.Error(t, err)
			var pe *errdef.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.transient, pe.Transient)
			assert.Equal(t, "openai", pe.Provider)
			assert.Equal(t, tt.transient, errdef.IsTransient(err))
		})
	}
}

func TestClassifyNetworkError(t *testing.T) {
	c := &client{provider: "openai"}

	err := c.classify("gpt-4o", context.DeadlineExceeded)
	assert.True(t, errdef.IsTransient(err))

	var netErr net.Error = &net.OpError{Op: "dial", Err: context.DeadlineExceeded}
	err = c.classify("gpt-4o", netErr)
	assert.True(t, errdef.IsTransient(err))

	err = c.classify("gpt-4o", assert.AnError)
	assert.False(t, errdef.IsTransient(err))
}

func TestNewClientDefaults(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)

	p, err := NewClient(&Config{Provider: "deepseek", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", p.Name())
}

func TestEstimateCost(t *testing.T) {
	assert.Zero(t, EstimateCost("unknown-model", 1000, 1000))
	assert.InDelta(t, (1000*2.50+500*10.00)/1e6, EstimateCost("gpt-4o", 1000, 500), 1e-12)
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages([]Message{
		SystemPrompt("be nice"),
		UserMessage("hi"),
		AssistantMessage("hello"),
		{Role: "weird", Content: "x"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, out[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, out[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, out[2].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, out[3].Role)
}
