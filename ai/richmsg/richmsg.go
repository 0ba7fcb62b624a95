// Package richmsg upgrades plain replies to structured channel payloads
// where the turn offers an opportunity: button prompts for yes/no questions,
// lists for enumerations and suggestions, cards for single catalog items.
// Any format-limit violation degrades to plain text with a recorded reason.
package richmsg

import (
	"fmt"
	"strings"

	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

// Validator enforces a channel's format limits on a prospective payload.
type Validator interface {
	Validate(p channel.Payload) error
}

// sharedLimits validates against the channel-neutral limits.
type sharedLimits struct{}

func (sharedLimits) Validate(p channel.Payload) error { return channel.Validate(p) }

// Output is the built payload, with the fallback reason set when a rich
// payload was rejected and the reply degraded to text.
type Output struct {
	Payload        channel.Payload
	FallbackReason string
}

// Builder detects rich-message opportunities for a turn.
type Builder struct {
	validator Validator
}

// NewBuilder creates a builder. A nil validator means the shared limits.
func NewBuilder(v Validator) *Builder {
	if v == nil {
		v = sharedLimits{}
	}
	return &Builder{validator: v}
}

// Build upgrades reply when an opportunity is present and the result passes
// validation; otherwise the reply ships as plain text.
func (b *Builder) Build(reply string, ac *aicontext.AgentContext) *Output {
	payload := b.detect(reply, ac)
	if payload == nil {
		return &Output{Payload: channel.TextPayload{Text: PlainText(reply)}}
	}
	if err := b.validator.Validate(payload); err != nil {
		return &Output{
			Payload:        channel.TextPayload{Text: PlainText(reply)},
			FallbackReason: err.Error(),
		}
	}
	return &Output{Payload: payload}
}

func (b *Builder) detect(reply string, ac *aicontext.AgentContext) channel.Payload {
	if isYesNoQuestion(reply) {
		return channel.ButtonPayload{
			Text: PlainText(reply),
			Buttons: []channel.Button{
				{ID: "yes", Label: "Yes"},
				{ID: "no", Label: "No"},
			},
		}
	}

	if items, intro, ok := ExtractBulletList(reply); ok {
		return listFromItems(items, intro)
	}

	if payload := suggestionList(reply, ac); payload != nil {
		return payload
	}

	return catalogPayload(reply, ac)
}

// yesNoOpeners start the auxiliary-verb questions a two-button prompt fits.
var yesNoOpeners = []string{
	"do you", "would you", "should i", "shall i", "can i", "may i",
	"are you", "is that", "will you", "want me to",
}

// isYesNoQuestion reports whether the reply ends with a question a yes/no
// pair answers.
func isYesNoQuestion(reply string) bool {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasSuffix(trimmed, "?") {
		return false
	}
	// Look at the final sentence only.
	last := trimmed
	if idx := strings.LastIndexAny(trimmed[:len(trimmed)-1], ".!?"); idx >= 0 {
		last = trimmed[idx+1:]
	}
	last = strings.ToLower(strings.TrimSpace(last))
	for _, opener := range yesNoOpeners {
		if strings.HasPrefix(last, opener) {
			return true
		}
	}
	return strings.Contains(last, "yes or no")
}

// listFromItems converts extracted markdown bullets into a list payload.
// "Title - description" items split into row title and description.
func listFromItems(items []string, intro string) channel.Payload {
	rows := make([]channel.ListRow, 0, len(items))
	for i, item := range items {
		title, desc := item, ""
		for _, sep := range []string{" - ", ": ", " – "} {
			if parts := strings.SplitN(item, sep, 2); len(parts) == 2 {
				title, desc = parts[0], parts[1]
				break
			}
		}
		rows = append(rows, channel.ListRow{
			ID:          fmt.Sprintf("item-%d", i+1),
			Title:       strings.TrimSpace(title),
			Description: strings.TrimSpace(desc),
		})
	}
	return channel.ListPayload{Body: intro, Rows: rows}
}

// suggestionList builds a list when the reply leans on the turn's proactive
// suggestions.
func suggestionList(reply string, ac *aicontext.AgentContext) channel.Payload {
	if ac.Suggestions == nil || ac.Suggestions.Empty() {
		return nil
	}
	lowered := strings.ToLower(reply)

	rows := []channel.ListRow{}
	for _, p := range ac.Suggestions.Products {
		if strings.Contains(lowered, strings.ToLower(p.Name)) {
			rows = append(rows, productRow(p))
		}
	}
	for _, s := range ac.Suggestions.Services {
		if strings.Contains(lowered, strings.ToLower(s.Name)) {
			rows = append(rows, serviceRow(s))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return channel.ListPayload{Title: "You might also like", Rows: rows}
}

// catalogPayload builds a card or list from the catalog items the reply
// names: one item with an image becomes a media card, several become a list.
func catalogPayload(reply string, ac *aicontext.AgentContext) channel.Payload {
	lowered := strings.ToLower(reply)

	var products []*store.Product
	for _, p := range ac.Products {
		if strings.Contains(lowered, strings.ToLower(p.Name)) {
			products = append(products, p)
		}
	}
	var services []*store.Service
	for _, s := range ac.Services {
		if strings.Contains(lowered, strings.ToLower(s.Name)) {
			services = append(services, s)
		}
	}

	total := len(products) + len(services)
	switch {
	case total == 0:
		return nil
	case total == 1 && len(products) == 1:
		if url, ok := products[0].Metadata["image_url"].(string); ok && url != "" {
			return channel.MediaPayload{
				URL:     url,
				Caption: fmt.Sprintf("%s - %s", products[0].Name, retrieval.FormatPrice(products[0].PriceCents, products[0].Currency)),
			}
		}
		return nil // a bare name mention with no image reads fine as text
	default:
		rows := make([]channel.ListRow, 0, total)
		for _, p := range products {
			rows = append(rows, productRow(p))
		}
		for _, s := range services {
			rows = append(rows, serviceRow(s))
		}
		return channel.ListPayload{Title: "Matching items", Rows: rows}
	}
}

func productRow(p *store.Product) channel.ListRow {
	return channel.ListRow{
		ID:          p.ID,
		Title:       p.Name,
		Description: retrieval.FormatPrice(p.PriceCents, p.Currency),
	}
}

func serviceRow(s *store.Service) channel.ListRow {
	return channel.ListRow{
		ID:          s.ID,
		Title:       s.Name,
		Description: fmt.Sprintf("%s, %d min", retrieval.FormatPrice(s.PriceCents, s.Currency), s.DurationMinutes),
	}
}
