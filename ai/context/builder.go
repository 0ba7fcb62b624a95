package context

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/ai/suggest"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

// DefaultTokenBudget caps the assembled context.
const DefaultTokenBudget = 100000

// contextTTLSeconds is the sliding expiry of the persistent conversation
// context.
const contextTTLSeconds = 30 * 60

// Truncation ladder sizes. Applied in order, recomputing after each step;
// the current message, can/cannot-do and disclaimers are never touched.
const (
	truncatedHistory   = 5
	truncatedKnowledge = 3
	truncatedProducts  = 5
	truncatedServices  = 5
)

// Defaults for the initial slice sizes.
const (
	historyLimit = 20
	catalogLimit = 10
	historyRows  = 5
)

// Store is the read/write surface the builder needs. *store.Store satisfies
// it.
type Store interface {
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)
	ListProducts(ctx context.Context, find *store.FindCatalogItem) ([]*store.Product, error)
	ListServices(ctx context.Context, find *store.FindCatalogItem) ([]*store.Service, error)
	ListOrders(ctx context.Context, find *store.FindHistory) ([]*store.Order, error)
	ListAppointments(ctx context.Context, find *store.FindHistory) ([]*store.Appointment, error)
	GetConversationContext(ctx context.Context, tenantID, conversationID string) (*store.ConversationContext, error)
	UpsertConversationContext(ctx context.Context, upsert *store.ConversationContext) (*store.ConversationContext, error)
}

// Builder assembles AgentContexts.
type Builder struct {
	store       Store
	knowledge   *retrieval.KnowledgeSearcher
	rag         *retrieval.Service // nil disables RAG
	suggestions *suggest.Engine    // nil disables suggestions
	budget      int
	nowTs       func() int64
}

// NewBuilder creates a context builder. rag and suggestions may be nil.
func NewBuilder(st Store, knowledge *retrieval.KnowledgeSearcher, rag *retrieval.Service, suggestions *suggest.Engine, budget int) *Builder {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return &Builder{
		store:       st,
		knowledge:   knowledge,
		rag:         rag,
		suggestions: suggestions,
		budget:      budget,
		nowTs:       store.NowTs,
	}
}

// Request identifies the turn being assembled.
type Request struct {
	TenantID       string
	ConversationID string
	CustomerID     string
	Message        string
	Config         *store.AgentConfiguration
}

// Build assembles the bounded AgentContext. Failures in non-critical parts
// (RAG, suggestions, history rows) degrade with a log line; failures loading
// conversation history or knowledge propagate.
func (b *Builder) Build(ctx context.Context, req *Request) (*AgentContext, error) {
	cfg := req.Config

	ac := &AgentContext{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		CustomerID:     req.CustomerID,
		CurrentMessage: req.Message,
		CanDo:          cfg.AgentCanDo,
		CannotDo:       cfg.AgentCannotDo,
		Disclaimers:    cfg.Disclaimers,
	}

	b.loadPersistentContext(ctx, req, ac)

	history, err := b.store.ListMessages(ctx, &store.FindMessage{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Limit:          historyLimit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load conversation history")
	}
	ac.History = history

	scored, err := b.knowledge.Search(ctx, &store.SearchKnowledge{
		TenantID:      req.TenantID,
		Query:         req.Message,
		Limit:         5,
		MinSimilarity: 0.3,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to search knowledge")
	}
	ac.Knowledge = scored

	active := true
	if products, err := b.store.ListProducts(ctx, &store.FindCatalogItem{
		TenantID: req.TenantID, Active: &active, Limit: catalogLimit,
	}); err != nil {
		slog.Warn("context: product slice unavailable", "tenant", req.TenantID, "error", err)
	} else {
		ac.Products = products
	}
	if services, err := b.store.ListServices(ctx, &store.FindCatalogItem{
		TenantID: req.TenantID, Active: &active, Limit: catalogLimit,
	}); err != nil {
		slog.Warn("context: service slice unavailable", "tenant", req.TenantID, "error", err)
	} else {
		ac.Services = services
	}

	if req.CustomerID != "" {
		if orders, err := b.store.ListOrders(ctx, &store.FindHistory{
			TenantID: req.TenantID, CustomerID: req.CustomerID, Limit: historyRows,
		}); err != nil {
			slog.Warn("context: order history unavailable", "tenant", req.TenantID, "error", err)
		} else {
			ac.Orders = orders
		}
		if appointments, err := b.store.ListAppointments(ctx, &store.FindHistory{
			TenantID: req.TenantID, CustomerID: req.CustomerID, Limit: historyRows,
		}); err != nil {
			slog.Warn("context: appointment history unavailable", "tenant", req.TenantID, "error", err)
		} else {
			ac.Appointments = appointments
		}
	}

	if b.rag != nil && (cfg.DocumentRetrievalEnabled || cfg.DatabaseRetrievalEnabled || cfg.InternetRetrievalEnabled) {
		ac.RAG = b.rag.Retrieve(ctx, cfg, req.TenantID, req.Message)
	}

	if b.suggestions != nil && cfg.SuggestionsEnabled {
		sugg, err := b.suggestions.Suggest(ctx, &suggest.Request{
			TenantID:      req.TenantID,
			LastProductID: ac.LastProductID,
			LastServiceID: ac.LastServiceID,
			Orders:        ac.Orders,
			NowTs:         b.nowTs(),
		})
		if err != nil {
			slog.Warn("context: suggestions unavailable", "tenant", req.TenantID, "error", err)
		} else {
			ac.Suggestions = sugg
		}
	}

	b.enforceBudget(ac)
	return ac, nil
}

// loadPersistentContext attaches the conversation's soft memory, creating a
// fresh record preserving key facts when absent or expired, and slides the
// expiry 30 minutes on each access. Best-effort.
func (b *Builder) loadPersistentContext(ctx context.Context, req *Request, ac *AgentContext) {
	now := b.nowTs()

	cc, err := b.store.GetConversationContext(ctx, req.TenantID, req.ConversationID)
	if err != nil && !errors.Is(err, errdef.ErrNotFound) {
		slog.Warn("context: conversation context unavailable", "conversation", req.ConversationID, "error", err)
		return
	}

	switch {
	case cc == nil || errors.Is(err, errdef.ErrNotFound):
		cc = &store.ConversationContext{
			ConversationID: req.ConversationID,
			TenantID:       req.TenantID,
		}
	case cc.Expired(now):
		// Key facts survive expiry; everything else resets.
		cc = &store.ConversationContext{
			ConversationID: req.ConversationID,
			TenantID:       req.TenantID,
			KeyFacts:       cc.KeyFacts,
		}
	}
	cc.ExpiresTs = now + contextTTLSeconds

	if _, err := b.store.UpsertConversationContext(ctx, cc); err != nil {
		slog.Warn("context: failed to extend conversation context", "conversation", req.ConversationID, "error", err)
	}

	ac.Summary = cc.Summary
	ac.KeyFacts = cc.KeyFacts
	ac.CurrentTopic = cc.CurrentTopic
	ac.LastProductID = cc.LastProductID
	ac.LastServiceID = cc.LastServiceID
}

// enforceBudget applies the fixed truncation ladder until the estimate fits.
func (b *Builder) enforceBudget(ac *AgentContext) {
	if ac.EstimateTokens() <= b.budget {
		return
	}

	steps := []func() bool{
		func() bool {
			if len(ac.History) <= truncatedHistory {
				return false
			}
			ac.History = ac.History[len(ac.History)-truncatedHistory:]
			return true
		},
		func() bool {
			if len(ac.Knowledge) <= truncatedKnowledge {
				return false
			}
			ac.Knowledge = ac.Knowledge[:truncatedKnowledge]
			return true
		},
		func() bool {
			if len(ac.Products) <= truncatedProducts {
				return false
			}
			ac.Products = ac.Products[:truncatedProducts]
			return true
		},
		func() bool {
			if len(ac.Services) <= truncatedServices {
				return false
			}
			ac.Services = ac.Services[:truncatedServices]
			return true
		},
		func() bool {
			if len(ac.Orders) == 0 && len(ac.Appointments) == 0 {
				return false
			}
			ac.Orders, ac.Appointments = nil, nil
			return true
		},
		func() bool {
			if len(ac.History) == 0 {
				return false
			}
			ac.History = nil
			return true
		},
	}

	for _, step := range steps {
		if step() {
			ac.Truncated = true
		}
		if ac.EstimateTokens() <= b.budget {
			return
		}
	}
}
