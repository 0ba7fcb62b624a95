package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

type fakeKnowledgeStore struct {
	entries   []*store.KnowledgeEntry
	vectorErr error
	scored    []*store.ScoredKnowledgeEntry
}

func (f *fakeKnowledgeStore) SearchKnowledge(_ context.Context, _ *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	if f.vectorErr != nil {
		return nil, f.vectorErr
	}
	return f.scored, nil
}

func (f *fakeKnowledgeStore) ListKnowledgeEntries(_ context.Context, _ *store.FindKnowledgeEntry) ([]*store.KnowledgeEntry, error) {
	return f.entries, nil
}

type fakeCatalog struct {
	products []*store.Product
	services []*store.Service
}

func (f *fakeCatalog) ListProducts(_ context.Context, find *store.FindCatalogItem) ([]*store.Product, error) {
	return f.products, nil
}

func (f *fakeCatalog) ListServices(_ context.Context, find *store.FindCatalogItem) ([]*store.Service, error) {
	return f.services, nil
}

func TestKeywordFallbackScoring(t *testing.T) {
	st := &fakeKnowledgeStore{
		vectorErr: errdef.ErrVectorSearchUnavailable,
		entries: []*store.KnowledgeEntry{
			{ID: "title-hit", Title: "Return policy", Content: "Thirty days.", Keywords: ""},
			{ID: "content-hit", Title: "Shipping", Content: "Our return policy is strict.", Keywords: ""},
			{ID: "keyword-hit", Title: "FAQ", Content: "General help.", Keywords: "policy,return"},
			{ID: "miss", Title: "Opening hours", Content: "9 to 5.", Keywords: ""},
		},
	}
	s := NewKnowledgeSearcher(st, nil)

	scored, err := s.Search(context.Background(), &store.SearchKnowledge{
		TenantID: "t1",
		Query:    "return policy",
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, scored, 3)

	// Title hits (0.5 per word) outrank content (0.3) and keyword (0.2) hits.
	assert.Equal(t, "title-hit", scored[0].Entry.ID)
	assert.Equal(t, "content-hit", scored[1].Entry.ID)
	assert.Equal(t, "keyword-hit", scored[2].Entry.ID)
	assert.InDelta(t, 0.5, scored[0].Similarity, 1e-9)
	assert.InDelta(t, 0.3, scored[1].Similarity, 1e-9)
	assert.InDelta(t, 0.2, scored[2].Similarity, 1e-9)
}

func TestKeywordFallbackMinSimilarity(t *testing.T) {
	st := &fakeKnowledgeStore{
		vectorErr: errdef.ErrVectorSearchUnavailable,
		entries: []*store.KnowledgeEntry{
			{ID: "weak", Title: "x", Content: "mentions policy once", Keywords: ""},
		},
	}
	s := NewKnowledgeSearcher(st, nil)

	scored, err := s.Search(context.Background(), &store.SearchKnowledge{
		TenantID:      "t1",
		Query:         "return policy",
		MinSimilarity: 0.4,
	})
	require.NoError(t, err)
	assert.Empty(t, scored)
}

func defaultConfig() *store.AgentConfiguration {
	cfg := store.DefaultAgentConfiguration("t1")
	cfg.DocumentRetrievalEnabled = true
	return cfg
}

func TestRetrievePrecedenceAndManifest(t *testing.T) {
	knowledge := NewKnowledgeSearcher(&fakeKnowledgeStore{
		vectorErr: errdef.ErrVectorSearchUnavailable,
		entries: []*store.KnowledgeEntry{
			{ID: "k1", Title: "Blue Shirt care", Content: "Wash the blue shirt cold.", Keywords: ""},
		},
	}, nil)
	catalog := &fakeCatalog{products: []*store.Product{
		{ID: "p1", Name: "Blue Shirt", Description: "Cotton", PriceCents: 2999, Currency: "USD", Stock: 4, Active: true},
	}}

	s := NewService(knowledge, catalog, nil, time.Second)
	res := s.Retrieve(context.Background(), defaultConfig(), "t1", "blue shirt")

	require.NotEmpty(t, res.Items)
	assert.Equal(t, SourceDatabase, res.Items[0].Source, "database results lead")
	assert.Equal(t, []Source{SourceDatabase, SourceDocument}, res.Sources)
}

func TestRetrievePriceConflictNote(t *testing.T) {
	knowledge := NewKnowledgeSearcher(&fakeKnowledgeStore{
		vectorErr: errdef.ErrVectorSearchUnavailable,
		entries: []*store.KnowledgeEntry{
			{ID: "k1", Title: "Pricing", Content: "The Blue Shirt costs $34.99 this month.", Keywords: ""},
		},
	}, nil)
	catalog := &fakeCatalog{products: []*store.Product{
		{ID: "p1", Name: "Blue Shirt", Description: "Cotton", PriceCents: 2999, Currency: "USD", Stock: 4, Active: true},
	}}

	s := NewService(knowledge, catalog, nil, time.Second)
	res := s.Retrieve(context.Background(), defaultConfig(), "t1", "blue shirt price")

	require.NotEmpty(t, res.Notes)
	assert.Contains(t, res.Notes[0], "blue shirt")
	assert.Contains(t, res.Notes[0], "authoritative")
}

func TestRetrieveInternetSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"title": "Review", "url": "https://example.com", "content": "Great shirt", "score": 0.8},
			{"title": "Other", "url": "https://example.org", "content": "Meh", "score": 0.2}
		]}`))
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.DocumentRetrievalEnabled = false
	cfg.DatabaseRetrievalEnabled = false
	cfg.InternetRetrievalEnabled = true

	knowledge := NewKnowledgeSearcher(&fakeKnowledgeStore{}, nil)
	s := NewService(knowledge, &fakeCatalog{}, NewInternetClient(srv.URL, "key"), time.Second)
	res := s.Retrieve(context.Background(), cfg, "t1", "blue shirt reviews")

	require.Len(t, res.Items, 2)
	assert.Equal(t, SourceInternet, res.Items[0].Source)
	assert.Equal(t, []Source{SourceInternet}, res.Sources)
}

func TestRetrieveAllDisabled(t *testing.T) {
	cfg := store.DefaultAgentConfiguration("t1")
	cfg.DatabaseRetrievalEnabled = false

	knowledge := NewKnowledgeSearcher(&fakeKnowledgeStore{}, nil)
	s := NewService(knowledge, &fakeCatalog{}, nil, time.Second)
	res := s.Retrieve(context.Background(), cfg, "t1", "anything")

	assert.Empty(t, res.Items)
	assert.Empty(t, res.Sources)
}

func TestExtractPriceCents(t *testing.T) {
	assert.Equal(t, []int64{3499}, extractPriceCents("It costs $34.99 today"))
	assert.Equal(t, []int64{2999, 1000}, extractPriceCents("€29,99 or GBP 10"))
	assert.Empty(t, extractPriceCents("no prices here"))
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "$29.99", FormatPrice(2999, "USD"))
	assert.Equal(t, "€5.00", FormatPrice(500, "EUR"))
	assert.Equal(t, "MXN120.00", FormatPrice(12000, "MXN"))
}
