package context

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

type fakeStore struct {
	messages     []*store.Message
	products     []*store.Product
	services     []*store.Service
	orders       []*store.Order
	appointments []*store.Appointment

	convContext *store.ConversationContext
	upserted    *store.ConversationContext
}

func (f *fakeStore) ListMessages(_ context.Context, _ *store.FindMessage) ([]*store.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) ListProducts(_ context.Context, _ *store.FindCatalogItem) ([]*store.Product, error) {
	return f.products, nil
}

func (f *fakeStore) ListServices(_ context.Context, _ *store.FindCatalogItem) ([]*store.Service, error) {
	return f.services, nil
}

func (f *fakeStore) ListOrders(_ context.Context, _ *store.FindHistory) ([]*store.Order, error) {
	return f.orders, nil
}

func (f *fakeStore) ListAppointments(_ context.Context, _ *store.FindHistory) ([]*store.Appointment, error) {
	return f.appointments, nil
}

func (f *fakeStore) GetConversationContext(_ context.Context, _, _ string) (*store.ConversationContext, error) {
	if f.convContext == nil {
		return nil, errdef.ErrNotFound
	}
	return f.convContext, nil
}

func (f *fakeStore) UpsertConversationContext(_ context.Context, upsert *store.ConversationContext) (*store.ConversationContext, error) {
	f.upserted = upsert
	return upsert, nil
}

type emptyKnowledge struct{}

func (emptyKnowledge) SearchKnowledge(_ context.Context, _ *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	return nil, errdef.ErrVectorSearchUnavailable
}

func (emptyKnowledge) ListKnowledgeEntries(_ context.Context, _ *store.FindKnowledgeEntry) ([]*store.KnowledgeEntry, error) {
	return nil, nil
}

func newTestBuilder(st *fakeStore, budget int) *Builder {
	b := NewBuilder(st, retrieval.NewKnowledgeSearcher(emptyKnowledge{}, nil), nil, nil, budget)
	b.nowTs = func() int64 { return 1000 }
	return b
}

func testConfig() *store.AgentConfiguration {
	cfg := store.DefaultAgentConfiguration("t1")
	cfg.DatabaseRetrievalEnabled = false
	cfg.AgentCanDo = "answer questions"
	cfg.AgentCannotDo = "process payments"
	cfg.Disclaimers = []string{"Prices may change."}
	return cfg
}

func TestBuildAssemblesContext(t *testing.T) {
	st := &fakeStore{
		messages: []*store.Message{
			{ID: "m1", Text: "hi"},
			{ID: "m2", Text: "any shirts?"},
		},
		products: []*store.Product{{ID: "p1", Name: "Blue Shirt", Active: true}},
		services: []*store.Service{{ID: "s1", Name: "Fitting", Active: true}},
		orders:   []*store.Order{{ID: "o1", TenantID: "t1"}},
		convContext: &store.ConversationContext{
			ConversationID: "c1",
			TenantID:       "t1",
			Summary:        "customer wants shirts",
			KeyFacts:       []string{"prefers blue"},
			CurrentTopic:   "shirts",
			LastProductID:  "p1",
			ExpiresTs:      1500,
		},
	}
	b := newTestBuilder(st, 0)

	ac, err := b.Build(context.Background(), &Request{
		TenantID:       "t1",
		ConversationID: "c1",
		CustomerID:     "cust1",
		Message:        "show me the blue one",
		Config:         testConfig(),
	})
	require.NoError(t, err)

	assert.Len(t, ac.History, 2)
	assert.Len(t, ac.Products, 1)
	assert.Len(t, ac.Services, 1)
	assert.Len(t, ac.Orders, 1)
	assert.Equal(t, "customer wants shirts", ac.Summary)
	assert.Equal(t, []string{"prefers blue"}, ac.KeyFacts)
	assert.Equal(t, "p1", ac.LastProductID)
	assert.False(t, ac.Truncated)
	assert.Positive(t, ac.TokenEstimate)

	// Access slides the expiry 30 minutes from now.
	require.NotNil(t, st.upserted)
	assert.Equal(t, int64(1000+30*60), st.upserted.ExpiresTs)
}

func TestBuildExpiredContextPreservesKeyFacts(t *testing.T) {
	st := &fakeStore{
		convContext: &store.ConversationContext{
			ConversationID: "c1",
			TenantID:       "t1",
			Summary:        "stale summary",
			CurrentTopic:   "stale topic",
			KeyFacts:       []string{"size M"},
			ExpiresTs:      900, // before now=1000
		},
	}
	b := newTestBuilder(st, 0)

	ac, err := b.Build(context.Background(), &Request{
		TenantID:       "t1",
		ConversationID: "c1",
		Message:        "hello again",
		Config:         testConfig(),
	})
	require.NoError(t, err)

	assert.Empty(t, ac.Summary)
	assert.Empty(t, ac.CurrentTopic)
	assert.Equal(t, []string{"size M"}, ac.KeyFacts)
}

func TestBuildMissingContextCreatesFresh(t *testing.T) {
	st := &fakeStore{}
	b := newTestBuilder(st, 0)

	ac, err := b.Build(context.Background(), &Request{
		TenantID:       "t1",
		ConversationID: "c1",
		Message:        "hi",
		Config:         testConfig(),
	})
	require.NoError(t, err)

	assert.Empty(t, ac.Summary)
	require.NotNil(t, st.upserted)
	assert.Equal(t, "c1", st.upserted.ConversationID)
}

func TestBudgetBoundary(t *testing.T) {
	// "hi" is 1 token and each 4-rune history message is 1 token, so six
	// messages put the estimate at exactly 7.
	messages := make([]*store.Message, 6)
	for i := range messages {
		messages[i] = &store.Message{ID: "m", Text: "abcd"}
	}

	cfg := testConfig()
	cfg.AgentCanDo, cfg.AgentCannotDo, cfg.Disclaimers = "", "", nil

	build := func(budget int) *AgentContext {
		b := newTestBuilder(&fakeStore{messages: messages}, budget)
		ac, err := b.Build(context.Background(), &Request{
			TenantID:       "t1",
			ConversationID: "c1",
			Message:        "hi",
			Config:         cfg,
		})
		require.NoError(t, err)
		return ac
	}

	assert.False(t, build(7).Truncated, "estimate exactly at budget fits")
	assert.True(t, build(6).Truncated, "one over budget truncates")
}

func TestTruncationLadder(t *testing.T) {
	long := strings.Repeat("x", 400)

	messages := make([]*store.Message, 20)
	for i := range messages {
		messages[i] = &store.Message{ID: "m", Text: long}
	}
	products := make([]*store.Product, 10)
	for i := range products {
		products[i] = &store.Product{ID: "p", Name: long, Active: true}
	}
	services := make([]*store.Service, 10)
	for i := range services {
		services[i] = &store.Service{ID: "s", Name: long, Active: true}
	}

	st := &fakeStore{
		messages: messages,
		products: products,
		services: services,
		orders:   []*store.Order{{ID: "o1"}},
	}
	b := newTestBuilder(st, 1)

	cfg := testConfig()
	ac, err := b.Build(context.Background(), &Request{
		TenantID:       "t1",
		ConversationID: "c1",
		CustomerID:     "cust1",
		Message:        "keep me",
		Config:         cfg,
	})
	require.NoError(t, err)

	assert.True(t, ac.Truncated)
	assert.Empty(t, ac.History, "history is dropped entirely as the last step")
	assert.Len(t, ac.Products, 5)
	assert.Len(t, ac.Services, 5)
	assert.Empty(t, ac.Orders)

	// Guardrails and the current message survive truncation untouched.
	assert.Equal(t, "keep me", ac.CurrentMessage)
	assert.Equal(t, cfg.AgentCanDo, ac.CanDo)
	assert.Equal(t, cfg.Disclaimers, ac.Disclaimers)
}

func TestTruncationKeepsRecentHistory(t *testing.T) {
	// Enough history to blow the budget, but a budget the ladder's first
	// step can satisfy.
	long := strings.Repeat("x", 400) // 100 tokens each
	messages := make([]*store.Message, 10)
	for i := range messages {
		id := string(rune('a' + i))
		messages[i] = &store.Message{ID: id, Text: long}
	}

	st := &fakeStore{messages: messages}
	b := newTestBuilder(st, 520)

	cfg := testConfig()
	cfg.AgentCanDo, cfg.AgentCannotDo, cfg.Disclaimers = "", "", nil

	ac, err := b.Build(context.Background(), &Request{
		TenantID:       "t1",
		ConversationID: "c1",
		Message:        "hi",
		Config:         cfg,
	})
	require.NoError(t, err)

	require.Len(t, ac.History, 5)
	// The most recent messages are the ones kept.
	assert.Equal(t, "f", ac.History[0].ID)
	assert.Equal(t, "j", ac.History[4].ID)
	assert.True(t, ac.Truncated)
}
