// Package llm provides a provider-neutral chat completion client. Every
// supported provider speaks the OpenAI-compatible protocol, so one client
// implementation covers them all; only base URLs and model names differ.
package llm

import "context"

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Request is a single chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32

	// JSONOnly asks the provider for a JSON object response. Used by the
	// structured calls (intent detection, reply generation).
	JSONOnly bool
}

// Generation is the provider's answer plus accounting data.
type Generation struct {
	Content      string
	FinishReason string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// EstimatedCost is USD, derived from the static pricing table. Zero for
	// unknown models.
	EstimatedCost float64

	LatencyMs int64
}

// Provider is a single upstream LLM endpoint. Implementations classify their
// failures into errdef.ProviderError so the router can decide between
// failover and surfacing.
type Provider interface {
	// Name returns the provider identifier (openai, deepseek, ...).
	Name() string

	// Generate performs one chat completion.
	Generate(ctx context.Context, req *Request) (*Generation, error)

	// Warmup sends a lightweight ping to establish the connection. Failures
	// are logged, never returned.
	Warmup(ctx context.Context)
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
