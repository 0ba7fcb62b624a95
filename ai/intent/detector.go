package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/ai/prompt"
)

// Cues carry conversational state that disambiguates terse messages like
// "yes" or "how much?".
type Cues struct {
	LastProductViewed string
	LastServiceViewed string
	// PreviousQuestion is the last outbound message when it asked a closed
	// question.
	PreviousQuestion string
}

// Detector runs the intent classification call.
type Detector struct {
	provider llm.Provider
	model    string
}

// NewDetector creates a detector bound to the tenant's cheap/fast model.
func NewDetector(provider llm.Provider, model string) *Detector {
	return &Detector{provider: provider, model: model}
}

type detectionPayload struct {
	Intents []Intent `json:"intents"`
}

// Detect classifies one logical turn into prioritized intents. An
// unparseable reply yields an empty list, never an error: the pipeline
// continues with OTHER handling.
func (d *Detector) Detect(ctx context.Context, message string, cues Cues) ([]Intent, error) {
	gen, err := d.provider.Generate(ctx, &llm.Request{
		Model:       d.model,
		MaxTokens:   512,
		Temperature: 0.1,
		JSONOnly:    true,
		Messages: []llm.Message{
			llm.SystemPrompt(detectionSystemPrompt()),
			llm.UserMessage(detectionUserPrompt(message, cues)),
		},
	})
	if err != nil {
		return nil, err
	}

	raw := prompt.ExtractJSONObject(gen.Content)
	if raw == "" {
		slog.Warn("intent: unparseable detection reply", "content_length", len(gen.Content))
		return []Intent{}, nil
	}

	var payload detectionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		slog.Warn("intent: detection reply rejected by schema", "error", err)
		return []Intent{}, nil
	}
	return Prioritize(payload.Intents), nil
}

func detectionSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify customer messages for a commerce assistant. ")
	b.WriteString("Reply with a JSON object only: {\"intents\": [{\"name\", \"confidence\", \"slots\", \"reasoning\"}]}.\n")
	b.WriteString("confidence is a number in [0,1]. slots is a flat string map (e.g. product, service, date, time).\n")
	b.WriteString("Valid intent names:\n")
	for _, name := range Names() {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	b.WriteString("A message may carry several intents. Use OTHER when nothing fits.")
	return b.String()
}

func detectionUserPrompt(message string, cues Cues) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer message:\n%s\n", message)

	if isTerse(message) {
		if cues.LastProductViewed != "" {
			fmt.Fprintf(&b, "\nThe customer was last looking at the product: %s\n", cues.LastProductViewed)
		}
		if cues.LastServiceViewed != "" {
			fmt.Fprintf(&b, "\nThe customer was last looking at the service: %s\n", cues.LastServiceViewed)
		}
		if cues.PreviousQuestion != "" {
			fmt.Fprintf(&b, "\nThe assistant previously asked: %s\n", cues.PreviousQuestion)
		}
	}
	return b.String()
}

// isTerse reports whether the message is too short to interpret on its own.
func isTerse(message string) bool {
	return len(strings.Fields(message)) <= 3
}
