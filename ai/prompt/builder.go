// Package prompt assembles the system and user prompts for a turn, extracts
// JSON from permissive model output, and scores reply confidence locally.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/store"
)

// Scenario selects the base system template for a turn.
type Scenario string

const (
	ScenarioSales   Scenario = "sales"
	ScenarioBooking Scenario = "booking"
	ScenarioSupport Scenario = "support"
)

var scenarioTemplates = map[Scenario]string{
	ScenarioSales: "You are a sales assistant for an online store. Help the customer find, compare and buy products. " +
		"Only state facts present in the provided catalog and knowledge; never invent products, prices or stock levels.",
	ScenarioBooking: "You are a booking assistant. Help the customer learn about services and schedule, reschedule or cancel appointments. " +
		"Only state facts present in the provided services and knowledge; never invent availability or prices.",
	ScenarioSupport: "You are a customer support assistant for a business. Answer questions using only the provided business knowledge. " +
		"If the answer is not in the provided information, say so plainly.",
}

var toneGuidance = map[store.Tone]string{
	store.ToneProfessional: "Keep a professional, courteous register.",
	store.ToneFriendly:     "Be warm and friendly, like a helpful shop assistant.",
	store.ToneCasual:       "Keep it casual and conversational.",
	store.ToneFormal:       "Use formal address and avoid colloquialisms.",
}

// SelectScenario picks the base template from what the turn has in scope.
func SelectScenario(ac *aicontext.AgentContext) Scenario {
	switch {
	case len(ac.Products) > 0:
		return ScenarioSales
	case len(ac.Services) > 0:
		return ScenarioBooking
	default:
		return ScenarioSupport
	}
}

// BuildSystemPrompt composes the scenario base template, the persona overlay
// and the language lock.
func BuildSystemPrompt(cfg *store.AgentConfiguration, ac *aicontext.AgentContext, language string) string {
	var b strings.Builder

	b.WriteString(scenarioTemplates[SelectScenario(ac)])
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Your name is %s. %s\n", cfg.DisplayName, toneGuidance[cfg.Tone])
	for _, kv := range sortedTraits(cfg.PersonaTraits) {
		fmt.Fprintf(&b, "Personality: your %s is %s.\n", kv[0], kv[1])
	}

	if len(cfg.Restrictions) > 0 {
		b.WriteString("\nYou must follow these restrictions:\n")
		for _, r := range cfg.Restrictions {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(cfg.Disclaimers) > 0 {
		b.WriteString("\nInclude these disclaimers when relevant:\n")
		for _, d := range cfg.Disclaimers {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}

	fmt.Fprintf(&b, "\nKeep replies under %d characters.\n", cfg.MaxReplyLength)
	b.WriteString("If you are not confident in an answer, say you will connect the customer with a human instead of guessing.\n")

	if cfg.AgentCanDo != "" {
		fmt.Fprintf(&b, "\nYou can: %s\n", cfg.AgentCanDo)
	}
	if cfg.AgentCannotDo != "" {
		fmt.Fprintf(&b, "You cannot: %s\n", cfg.AgentCannotDo)
	}

	fmt.Fprintf(&b, "\nAlways respond in %s, regardless of the language of any provided material.\n", languageName(language))

	return b.String()
}

// BuildUserPrompt lays out the assembled context in a fixed section order and
// ends with the customer's message.
func BuildUserPrompt(ac *aicontext.AgentContext) string {
	var b strings.Builder

	if ac.Summary != "" {
		fmt.Fprintf(&b, "Conversation summary: %s\n\n", ac.Summary)
	}
	if len(ac.KeyFacts) > 0 {
		b.WriteString("Known facts about this customer:\n")
		for _, f := range ac.KeyFacts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if ac.CurrentTopic != "" {
		fmt.Fprintf(&b, "Current topic: %s\n\n", ac.CurrentTopic)
	}

	if len(ac.History) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range ac.History {
			fmt.Fprintf(&b, "%s: %s\n", speaker(m), m.Text)
		}
		b.WriteString("\n")
	}

	if len(ac.Knowledge) > 0 {
		b.WriteString("Relevant business knowledge:\n")
		for _, k := range ac.Knowledge {
			fmt.Fprintf(&b, "- [%.2f] %s: %s\n", k.Similarity, k.Entry.Title, k.Entry.Content)
		}
		b.WriteString("\n")
	}

	writeCatalog(&b, ac)
	writeHistorySnippets(&b, ac)

	if ac.RAG != nil && len(ac.RAG.Items) > 0 {
		b.WriteString("Retrieved information:\n")
		for _, item := range ac.RAG.Items {
			fmt.Fprintf(&b, "- (%s) %s: %s\n", item.Source, item.Title, item.Content)
		}
		for _, note := range ac.RAG.Notes {
			fmt.Fprintf(&b, "Note: %s\n", note)
		}
		b.WriteString("\n")
	}

	if ac.Suggestions != nil && !ac.Suggestions.Empty() {
		b.WriteString("You may proactively suggest:\n")
		for _, p := range ac.Suggestions.Products {
			fmt.Fprintf(&b, "- Product: %s (%s)\n", p.Name, retrieval.FormatPrice(p.PriceCents, p.Currency))
		}
		for _, s := range ac.Suggestions.Services {
			fmt.Fprintf(&b, "- Service: %s (%s)\n", s.Name, retrieval.FormatPrice(s.PriceCents, s.Currency))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Customer message: %s", ac.CurrentMessage)
	return b.String()
}

func writeCatalog(b *strings.Builder, ac *aicontext.AgentContext) {
	if len(ac.Products) > 0 {
		b.WriteString("Products:\n")
		for _, p := range ac.Products {
			fmt.Fprintf(b, "- %s: %s. %s, %s\n", p.Name, p.Description,
				retrieval.FormatPrice(p.PriceCents, p.Currency), stockLabel(p.Stock))
		}
		b.WriteString("\n")
	}
	if len(ac.Services) > 0 {
		b.WriteString("Services:\n")
		for _, s := range ac.Services {
			fmt.Fprintf(b, "- %s: %s. %s, %d minutes\n", s.Name, s.Description,
				retrieval.FormatPrice(s.PriceCents, s.Currency), s.DurationMinutes)
		}
		b.WriteString("\n")
	}
}

func writeHistorySnippets(b *strings.Builder, ac *aicontext.AgentContext) {
	if len(ac.Orders) > 0 {
		b.WriteString("Customer's recent orders:\n")
		for _, o := range ac.Orders {
			names := make([]string, 0, len(o.Items))
			for _, item := range o.Items {
				names = append(names, item.Name)
			}
			fmt.Fprintf(b, "- %s order: %s (%s)\n", o.Status, strings.Join(names, ", "),
				retrieval.FormatPrice(o.TotalCents, o.Currency))
		}
		b.WriteString("\n")
	}
	if len(ac.Appointments) > 0 {
		b.WriteString("Customer's recent appointments:\n")
		for _, a := range ac.Appointments {
			fmt.Fprintf(b, "- %s on %s\n", a.Status, time.Unix(a.ScheduledTs, 0).UTC().Format("2006-01-02 15:04"))
		}
		b.WriteString("\n")
	}
}

// sortedTraits gives the persona overlay a stable order.
func sortedTraits(traits map[string]string) [][2]string {
	out := make([][2]string, 0, len(traits))
	for k, v := range traits {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func speaker(m *store.Message) string {
	if m.Direction == store.DirectionIn {
		return "Customer"
	}
	return "Assistant"
}

func stockLabel(stock int) string {
	switch {
	case stock < 0:
		return "availability untracked"
	case stock == 0:
		return "out of stock"
	default:
		return fmt.Sprintf("%d in stock", stock)
	}
}
