// Package context assembles the bounded AgentContext for one turn. The
// AgentContext is a transient value rebuilt each turn from ids; it is never
// persisted.
package context

import (
	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/ai/suggest"
	"github.com/conversia-ai/conversia/internal/strutil"
	"github.com/conversia-ai/conversia/store"
)

// AgentContext is everything the prompt assembler may draw on for one turn.
type AgentContext struct {
	TenantID       string
	ConversationID string
	CustomerID     string

	// CurrentMessage is the harmonized logical turn. Never truncated.
	CurrentMessage string

	History      []*store.Message
	Knowledge    []*store.ScoredKnowledgeEntry
	Products     []*store.Product
	Services     []*store.Service
	Orders       []*store.Order
	Appointments []*store.Appointment

	// Soft memory carried over from previous turns.
	Summary       string
	KeyFacts      []string
	CurrentTopic  string
	LastProductID string
	LastServiceID string

	RAG         *retrieval.Result
	Suggestions *suggest.Suggestions

	// Behavioral guardrails. Never truncated.
	CanDo       string
	CannotDo    string
	Disclaimers []string

	TokenEstimate int
	Truncated     bool
}

// EstimateTokens recomputes the token estimate (⌈chars/4⌉ summed over every
// assembled part) and stores it on the context.
func (c *AgentContext) EstimateTokens() int {
	total := strutil.EstimateTokens(c.CurrentMessage)

	for _, m := range c.History {
		total += strutil.EstimateTokens(m.Text)
	}
	for _, k := range c.Knowledge {
		total += strutil.EstimateTokens(k.Entry.Title) + strutil.EstimateTokens(k.Entry.Content)
	}
	for _, p := range c.Products {
		total += strutil.EstimateTokens(p.Name) + strutil.EstimateTokens(p.Description)
	}
	for _, s := range c.Services {
		total += strutil.EstimateTokens(s.Name) + strutil.EstimateTokens(s.Description)
	}
	for _, o := range c.Orders {
		for _, item := range o.Items {
			total += strutil.EstimateTokens(item.Name)
		}
	}
	total += 8 * len(c.Appointments) // fixed-shape rows

	total += strutil.EstimateTokens(c.Summary)
	total += strutil.EstimateTokens(c.CurrentTopic)
	for _, f := range c.KeyFacts {
		total += strutil.EstimateTokens(f)
	}

	if c.RAG != nil {
		for _, item := range c.RAG.Items {
			total += strutil.EstimateTokens(item.Title) + strutil.EstimateTokens(item.Content)
		}
		for _, note := range c.RAG.Notes {
			total += strutil.EstimateTokens(note)
		}
	}
	if c.Suggestions != nil {
		for _, p := range c.Suggestions.Products {
			total += strutil.EstimateTokens(p.Name)
		}
		for _, s := range c.Suggestions.Services {
			total += strutil.EstimateTokens(s.Name)
		}
	}

	total += strutil.EstimateTokens(c.CanDo) + strutil.EstimateTokens(c.CannotDo)
	for _, d := range c.Disclaimers {
		total += strutil.EstimateTokens(d)
	}

	c.TokenEstimate = total
	return total
}
