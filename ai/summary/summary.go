// Package summary maintains the rolling conversation summary stored on the
// persistent conversation context. Refreshes go through the cheap model;
// when the model is unavailable the summary degrades to a deterministic
// truncation so the context never goes stale silently.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/internal/strutil"
	"github.com/conversia-ai/conversia/store"
)

// RefreshAfterMessages is how many new messages accumulate before the
// summary is refreshed.
const RefreshAfterMessages = 10

// maxSummaryRunes bounds both the LLM summary and the fallback.
const maxSummaryRunes = 500

// Refresher produces updated rolling summaries.
type Refresher struct {
	provider llm.Provider
	model    string
}

// NewRefresher creates a refresher bound to the cheap model tier.
func NewRefresher(provider llm.Provider, model string) *Refresher {
	return &Refresher{provider: provider, model: model}
}

// ShouldRefresh reports whether enough messages accumulated since the last
// refresh.
func ShouldRefresh(messagesSinceRefresh int) bool {
	return messagesSinceRefresh >= RefreshAfterMessages
}

// Refresh folds the new window into the previous summary. Model failures
// fall back to Deterministic; Refresh never returns an empty summary for a
// non-empty window.
func (r *Refresher) Refresh(ctx context.Context, previous string, window []*store.Message) string {
	if len(window) == 0 {
		return previous
	}

	req := &llm.Request{
		Model: r.model,
		Messages: []llm.Message{
			llm.SystemPrompt("You summarize customer service conversations. " +
				"Reply with a 2-3 sentence summary capturing the customer's needs, decisions made, and any open items. " +
				"No preamble."),
			llm.UserMessage(refreshPrompt(previous, window)),
		},
		MaxTokens:   256,
		Temperature: 0.3,
	}

	gen, err := r.provider.Generate(ctx, req)
	if err != nil || strings.TrimSpace(gen.Content) == "" {
		slog.Warn("summary: model refresh failed, using deterministic fallback", "error", err)
		return Deterministic(previous, window)
	}
	return strutil.Truncate(strings.TrimSpace(gen.Content), maxSummaryRunes)
}

func refreshPrompt(previous string, window []*store.Message) string {
	var b strings.Builder
	if previous != "" {
		fmt.Fprintf(&b, "Previous summary: %s\n\n", previous)
	}
	b.WriteString("New messages:\n")
	for _, m := range window {
		fmt.Fprintf(&b, "%s: %s\n", speaker(m), m.Text)
	}
	return b.String()
}

// Deterministic is the model-free fallback: the previous summary followed by
// a collapsed transcript of the window, truncated to the summary bound.
func Deterministic(previous string, window []*store.Message) string {
	parts := []string{}
	if previous != "" {
		parts = append(parts, previous)
	}
	for _, m := range window {
		parts = append(parts, fmt.Sprintf("%s: %s", speaker(m), strutil.CollapseSpace(m.Text)))
	}
	return strutil.Truncate(strings.Join(parts, " | "), maxSummaryRunes)
}

func speaker(m *store.Message) string {
	if m.Direction == store.DirectionIn {
		return "Customer"
	}
	return "Assistant"
}
