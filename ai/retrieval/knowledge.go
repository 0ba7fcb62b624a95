package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/ai/core/embedding"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

// Keyword fallback weights per matched field.
const (
	titleWeight   = 0.5
	contentWeight = 0.3
	keywordWeight = 0.2
)

// KnowledgeStore is the slice of the store the searcher reads. *store.Store
// satisfies it.
type KnowledgeStore interface {
	SearchKnowledge(ctx context.Context, search *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error)
	ListKnowledgeEntries(ctx context.Context, find *store.FindKnowledgeEntry) ([]*store.KnowledgeEntry, error)
}

// KnowledgeSearcher performs semantic knowledge search, degrading to
// weighted keyword matching when embeddings or the vector index are
// unavailable.
type KnowledgeSearcher struct {
	store    KnowledgeStore
	embedder embedding.Service // nil disables the vector path
}

// NewKnowledgeSearcher creates a searcher. embedder may be nil.
func NewKnowledgeSearcher(st KnowledgeStore, embedder embedding.Service) *KnowledgeSearcher {
	return &KnowledgeSearcher{store: st, embedder: embedder}
}

// Search returns scored active entries sorted by (similarity desc, priority
// desc).
func (s *KnowledgeSearcher) Search(ctx context.Context, search *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, search.Query)
		if err == nil {
			vectorSearch := *search
			vectorSearch.Embedding = vector
			scored, err := s.store.SearchKnowledge(ctx, &vectorSearch)
			if err == nil {
				return scored, nil
			}
			if !errors.Is(err, errdef.ErrVectorSearchUnavailable) {
				return nil, err
			}
			slog.Debug("retrieval: vector search unavailable, using keyword fallback", "tenant", search.TenantID)
		} else {
			slog.Warn("retrieval: embedding failed, using keyword fallback", "error", err)
		}
	}
	return s.keywordSearch(ctx, search)
}

// keywordSearch scores entries by case-insensitive word hits weighted by
// field: title 0.5, content 0.3, keywords 0.2.
func (s *KnowledgeSearcher) keywordSearch(ctx context.Context, search *store.SearchKnowledge) ([]*store.ScoredKnowledgeEntry, error) {
	active := true
	entries, err := s.store.ListKnowledgeEntries(ctx, &store.FindKnowledgeEntry{
		TenantID: search.TenantID,
		Kinds:    search.Kinds,
		Active:   &active,
	})
	if err != nil {
		return nil, err
	}

	words := significantWords(search.Query)
	if len(words) == 0 {
		return []*store.ScoredKnowledgeEntry{}, nil
	}

	scored := []*store.ScoredKnowledgeEntry{}
	for _, entry := range entries {
		title := strings.ToLower(entry.Title)
		content := strings.ToLower(entry.Content)
		keywords := strings.ToLower(entry.Keywords)

		score := 0.0
		for _, w := range words {
			if strings.Contains(title, w) {
				score += titleWeight
			}
			if strings.Contains(content, w) {
				score += contentWeight
			}
			if strings.Contains(keywords, w) {
				score += keywordWeight
			}
		}
		score /= float64(len(words))
		if score > 1 {
			score = 1
		}
		if score <= 0 || score < search.MinSimilarity {
			continue
		}
		scored = append(scored, &store.ScoredKnowledgeEntry{Entry: entry, Similarity: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Entry.Priority > scored[j].Entry.Priority
	})
	if search.Limit > 0 && len(scored) > search.Limit {
		scored = scored[:search.Limit]
	}
	return scored, nil
}

// significantWords keeps query words of 3+ characters, lowercased.
func significantWords(query string) []string {
	words := []string{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,!?:;\"'()")
		if len([]rune(w)) >= 3 {
			words = append(words, w)
		}
	}
	return words
}
