package agent

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/ai/harmonizer"
	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/ai/routing"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

type fakeStore struct {
	mu sync.Mutex

	tenant   *store.Tenant
	cfg      *store.AgentConfiguration
	conv     *store.Conversation
	customer *store.Customer
	products []*store.Product
	services []*store.Service

	convContext  *store.ConversationContext
	appended     []*store.Message
	interactions []*store.AgentInteraction
	usage        []*store.ProviderUsage
	transitions  []*store.ConversationTransition
	incCalls     int
	resetCalls   int
}

func (f *fakeStore) GetTenant(_ context.Context, _ *store.FindTenant) (*store.Tenant, error) {
	return f.tenant, nil
}

func (f *fakeStore) GetAgentConfiguration(_ context.Context, _ string) (*store.AgentConfiguration, error) {
	if f.cfg == nil {
		return nil, errdef.ErrNotFound
	}
	return f.cfg, nil
}

func (f *fakeStore) GetConversation(_ context.Context, _ *store.FindConversation) (*store.Conversation, error) {
	return f.conv, nil
}

func (f *fakeStore) GetCustomer(_ context.Context, _ *store.FindCustomer) (*store.Customer, error) {
	if f.customer == nil {
		return nil, errdef.ErrNotFound
	}
	return f.customer, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if create.ID == "" {
		create.ID = store.NewID()
	}
	f.appended = append(f.appended, create)
	return create, nil
}

func (f *fakeStore) IncLowConfidence(_ context.Context, _, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incCalls++
	f.conv.LowConfidenceCount++
	return f.conv.LowConfidenceCount, nil
}

func (f *fakeStore) ResetLowConfidence(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls++
	f.conv.LowConfidenceCount = 0
	return nil
}

func (f *fakeStore) TransitionConversationState(_ context.Context, transition *store.ConversationTransition) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, transition)
	f.conv.State = transition.To
	return f.conv, nil
}

func (f *fakeStore) UpdateConversation(_ context.Context, _ *store.UpdateConversation) (*store.Conversation, error) {
	return f.conv, nil
}

func (f *fakeStore) CreateAgentInteraction(_ context.Context, create *store.AgentInteraction) (*store.AgentInteraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, create)
	return create, nil
}

func (f *fakeStore) CreateProviderUsage(_ context.Context, create *store.ProviderUsage) (*store.ProviderUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, create)
	return create, nil
}

func (f *fakeStore) GetConversationContext(_ context.Context, _, _ string) (*store.ConversationContext, error) {
	if f.convContext == nil {
		return nil, errdef.ErrNotFound
	}
	return f.convContext, nil
}

func (f *fakeStore) UpsertConversationContext(_ context.Context, upsert *store.ConversationContext) (*store.ConversationContext, error) {
	f.convContext = upsert
	return upsert, nil
}

// Context-builder reads.

func (f *fakeStore) ListMessages(_ context.Context, _ *store.FindMessage) ([]*store.Message, error) {
	return nil, nil
}

func (f *fakeStore) ListProducts(_ context.Context, _ *store.FindCatalogItem) ([]*store.Product, error) {
	return f.products, nil
}

func (f *fakeStore) ListServices(_ context.Context, _ *store.FindCatalogItem) ([]*store.Service, error) {
	return f.services, nil
}

func (f *fakeStore) ListOrders(_ context.Context, _ *store.FindHistory) ([]*store.Order, error) {
	return nil, nil
}

func (f *fakeStore) ListAppointments(_ context.Context, _ *store.FindHistory) ([]*store.Appointment, error) {
	return nil, nil
}

type emptyKnowledge struct{}

func (emptyKnowledge) SearchKnowledge(_ context.Context, _ *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	return nil, errdef.ErrVectorSearchUnavailable
}

func (emptyKnowledge) ListKnowledgeEntries(_ context.Context, _ *store.FindKnowledgeEntry) ([]*store.KnowledgeEntry, error) {
	return nil, nil
}

// fakeProvider answers JSON-mode calls (intent detection) with intentJSON
// and plain calls from the reply queue. A non-nil err fails plain calls.
type fakeProvider struct {
	mu         sync.Mutex
	name       string
	intentJSON string
	replies    []string
	err        error
	calls      []*llm.Request
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(_ context.Context, req *llm.Request) (*llm.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if req.JSONOnly {
		return &llm.Generation{Content: f.intentJSON}, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	reply := "OK."
	if len(f.replies) > 0 {
		reply = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	return &llm.Generation{Content: reply, PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}, nil
}

func (f *fakeProvider) Warmup(context.Context) {}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenant: &store.Tenant{
			ID:               "t1",
			AllowedLanguages: []string{"en"},
		},
		cfg: store.DefaultAgentConfiguration("t1"),
		conv: &store.Conversation{
			ID:         "c1",
			TenantID:   "t1",
			CustomerID: "cust1",
			State:      store.ConversationOpen,
		},
		customer: &store.Customer{ID: "cust1", TenantID: "t1", Phone: "+5511999990000"},
		products: []*store.Product{
			{ID: "p1", TenantID: "t1", Name: "Blue Shirt", Description: "Cotton shirt", PriceCents: 2999, Currency: "USD", Stock: 4},
		},
	}
}

func newTestAgent(st *fakeStore, provider *fakeProvider, gateway channel.Gateway) *Agent {
	registry := NewRegistry("openai")
	registry.Register(provider)

	builder := aicontext.NewBuilder(st, retrieval.NewKnowledgeSearcher(emptyKnowledge{}, nil), nil, nil, 0)

	return New(st, registry, builder, Options{
		Models:  routing.Models{Cheap: "gpt-4o-mini", Default: "gpt-4o"},
		Gateway: gateway,
	})
}

func turn(text string) *harmonizer.Turn {
	return &harmonizer.Turn{TenantID: "t1", ConversationID: "c1", Text: text}
}

func TestProcessEmitsReply(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"GREETING","confidence":0.9}]}`,
		replies:    []string{"Hello! Happy to help with anything you need."},
	}
	gw := &channel.Fake{}
	a := newTestAgent(st, provider, gw)

	require.NoError(t, a.Process(context.Background(), turn("hi there")))

	require.Len(t, st.appended, 1)
	out := st.appended[0]
	assert.Equal(t, store.DirectionOut, out.Direction)
	assert.Equal(t, store.MessageBotResponse, out.Type)
	assert.Equal(t, store.DeliverySent, out.DeliveryStatus)
	assert.NotEmpty(t, out.ProviderMessageID)

	sends := gw.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "+5511999990000", sends[0].To)

	require.Len(t, st.interactions, 1)
	rec := st.interactions[0]
	assert.Equal(t, "hi there", rec.CustomerMessage)
	assert.False(t, rec.HandoffTriggered)
	// A short greeting routes to the cheap tier.
	assert.Equal(t, "gpt-4o-mini", rec.ModelUsed)
	require.NotEmpty(t, rec.DetectedIntents)
	assert.Equal(t, "GREETING", rec.DetectedIntents[0].Name)

	// One successful reply advances the conversation to bot_handled.
	assert.Equal(t, store.ConversationBotHandled, st.conv.State)
}

func TestProcessRecordsHarmonizedTurn(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"BOOK_APPOINTMENT","confidence":0.9,"slots":{"service":"haircut"}}]}`,
		replies:    []string{"Sure, let me check availability for tomorrow at 10am."},
	}
	a := newTestAgent(st, provider, &channel.Fake{})

	require.NoError(t, a.Process(context.Background(), turn("I want to book\na haircut\ntomorrow 10am")))

	require.Len(t, st.interactions, 1)
	rec := st.interactions[0]
	assert.Contains(t, rec.CustomerMessage, "I want to book")
	assert.Contains(t, rec.CustomerMessage, "a haircut")
	assert.Contains(t, rec.CustomerMessage, "tomorrow 10am")
	require.NotEmpty(t, rec.DetectedIntents)
	assert.Equal(t, "BOOK_APPOINTMENT", rec.DetectedIntents[0].Name)
}

func TestProcessRegeneratesOnGroundingViolation(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"PRICE_CHECK","confidence":0.9}]}`,
		replies: []string{
			"The Blue Shirt costs $34.99.",
			"The Blue Shirt costs $29.99.",
		},
	}
	a := newTestAgent(st, provider, &channel.Fake{})

	require.NoError(t, a.Process(context.Background(), turn("how much is the blue shirt?")))

	require.Len(t, st.appended, 1)
	assert.Contains(t, st.appended[0].Text, "$29.99")
	assert.False(t, st.interactions[0].HandoffTriggered)
	for _, tr := range st.transitions {
		assert.NotEqual(t, store.ConversationHandedOff, tr.To)
	}

	// The corrective request carries the rejected reply.
	last := provider.calls[len(provider.calls)-1]
	assert.Contains(t, last.Messages[3].Content, "do not match the catalog")
}

func TestProcessHandsOffWhenRegenerationStaysUngrounded(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"PRICE_CHECK","confidence":0.9}]}`,
		replies: []string{
			"The Blue Shirt costs $34.99.",
			"The Blue Shirt costs $39.99.",
		},
	}
	gw := &channel.Fake{}
	a := newTestAgent(st, provider, gw)

	require.NoError(t, a.Process(context.Background(), turn("how much is the blue shirt?")))

	require.NotEmpty(t, st.transitions)
	tr := st.transitions[0]
	assert.Equal(t, store.ConversationHandedOff, tr.To)
	assert.Equal(t, "grounding_failure", tr.Reason)

	// The unverified price never reaches the customer.
	require.Len(t, st.appended, 1)
	assert.NotContains(t, st.appended[0].Text, "$34.99")
	assert.NotContains(t, st.appended[0].Text, "$39.99")

	require.Len(t, st.interactions, 1)
	assert.True(t, st.interactions[0].HandoffTriggered)
	assert.Equal(t, "grounding_failure", st.interactions[0].HandoffReason)
}

func TestProcessFailsOverToFallbackModel(t *testing.T) {
	st := newFakeStore()
	st.cfg.FallbackModels = []string{"deepseek-chat"}

	primary := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"OTHER","confidence":0.5}]}`,
		err:        &errdef.ProviderError{Provider: "openai", Model: "gpt-4o", Transient: true, Err: assert.AnError},
	}
	fallback := &fakeProvider{
		name:    "deepseek",
		replies: []string{"Happy to help with that."},
	}

	registry := NewRegistry("openai")
	registry.Register(primary)
	registry.Register(fallback)
	builder := aicontext.NewBuilder(st, retrieval.NewKnowledgeSearcher(emptyKnowledge{}, nil), nil, nil, 0)
	a := New(st, registry, builder, Options{
		Models:  routing.Models{Cheap: "gpt-4o-mini", Default: "gpt-4o"},
		Gateway: &channel.Fake{},
	})

	require.NoError(t, a.Process(context.Background(), turn("hello")))

	require.Len(t, st.interactions, 1)
	assert.Equal(t, "deepseek-chat", st.interactions[0].ModelUsed)

	// Usage ledger keeps the failed primary attempt.
	require.Len(t, st.usage, 2)
	assert.Equal(t, "openai", st.usage[0].Provider)
	assert.False(t, st.usage[0].Success)
	assert.False(t, st.usage[0].WasFailover)
	assert.Equal(t, "deepseek", st.usage[1].Provider)
	assert.True(t, st.usage[1].Success)
	assert.True(t, st.usage[1].WasFailover)
}

func TestProcessHandsOffOnConsecutiveLowConfidence(t *testing.T) {
	st := newFakeStore()
	st.conv.LowConfidenceCount = 1 // one prior low-confidence turn
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"OTHER","confidence":0.4}]}`,
		replies:    []string{"I'm not sure about that."},
	}
	a := newTestAgent(st, provider, &channel.Fake{})

	require.NoError(t, a.Process(context.Background(), turn("what about the thing?")))

	require.NotEmpty(t, st.transitions)
	assert.Equal(t, store.ConversationHandedOff, st.transitions[0].To)
	assert.Equal(t, "consecutive_low_confidence", st.transitions[0].Reason)
	assert.Equal(t, 0, st.conv.LowConfidenceCount)
	assert.Positive(t, st.resetCalls)
}

func TestProcessIncrementsCounterBelowLimit(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"OTHER","confidence":0.4}]}`,
		replies:    []string{"I'm not sure about that."},
	}
	a := newTestAgent(st, provider, &channel.Fake{})

	require.NoError(t, a.Process(context.Background(), turn("what about the thing?")))

	assert.Equal(t, 1, st.incCalls)
	assert.Equal(t, 1, st.conv.LowConfidenceCount)
	for _, tr := range st.transitions {
		assert.NotEqual(t, store.ConversationHandedOff, tr.To)
	}
}

func TestProcessSkipsHandedOffConversation(t *testing.T) {
	st := newFakeStore()
	st.conv.State = store.ConversationHandedOff
	provider := &fakeProvider{name: "openai"}
	gw := &channel.Fake{}
	a := newTestAgent(st, provider, gw)

	require.NoError(t, a.Process(context.Background(), turn("hello again")))

	assert.Empty(t, st.appended)
	assert.Empty(t, gw.Sends())
	assert.Empty(t, st.interactions)
}

func TestProcessHandsOffWhenAllProvidersFail(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[]}`,
		err:        &errdef.ProviderError{Provider: "openai", Model: "gpt-4o", Transient: true, Err: assert.AnError},
	}
	gw := &channel.Fake{}
	a := newTestAgent(st, provider, gw)

	require.NoError(t, a.Process(context.Background(), turn("hello")))

	require.NotEmpty(t, st.transitions)
	assert.Equal(t, store.ConversationHandedOff, st.transitions[0].To)
	assert.Equal(t, "processing_error", st.transitions[0].Reason)

	require.Len(t, st.appended, 1)
	assert.True(t, strings.Contains(st.appended[0].Text, "follow up"))

	require.Len(t, st.interactions, 1)
	assert.True(t, st.interactions[0].HandoffTriggered)
	assert.Equal(t, "processing_error", st.interactions[0].HandoffReason)
}

func TestProcessWithoutGatewayStillPersists(t *testing.T) {
	st := newFakeStore()
	provider := &fakeProvider{
		name:       "openai",
		intentJSON: `{"intents":[{"name":"GREETING","confidence":0.9}]}`,
		replies:    []string{"Hello! Happy to help with anything you need."},
	}
	a := newTestAgent(st, provider, nil)

	require.NoError(t, a.Process(context.Background(), turn("hi")))

	require.Len(t, st.appended, 1)
	assert.Empty(t, st.appended[0].DeliveryStatus)
}
