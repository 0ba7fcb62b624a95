package store

// KnowledgeKind classifies a knowledge entry.
type KnowledgeKind string

const (
	KnowledgeFAQ         KnowledgeKind = "faq"
	KnowledgePolicy      KnowledgeKind = "policy"
	KnowledgeProductInfo KnowledgeKind = "product_info"
	KnowledgeServiceInfo KnowledgeKind = "service_info"
	KnowledgeProcedure   KnowledgeKind = "procedure"
	KnowledgeGeneral     KnowledgeKind = "general"
)

// KnowledgeEntry is one tenant-scoped knowledge base record. Deletion is
// soft (Active flips to false); Version increments whenever title or content
// change, which also forces re-embedding.
type KnowledgeEntry struct {
	ID       string
	TenantID string

	Kind     KnowledgeKind
	Title    string
	Content  string
	Category string
	Keywords string // comma-separated

	Embedding []float32
	Metadata  map[string]any
	Priority  int // [0,100], higher wins on equal similarity
	Active    bool
	Version   int32

	CreatedTs int64
	UpdatedTs int64
}

type FindKnowledgeEntry struct {
	TenantID string
	ID       *string
	Kinds    []KnowledgeKind
	Active   *bool
	Limit    int
}

// UpdateKnowledgeEntry mutates an entry. When Title or Content are set the
// driver bumps Version; callers are expected to pass a fresh Embedding in
// that case.
type UpdateKnowledgeEntry struct {
	TenantID string
	ID       string

	Kind      *KnowledgeKind
	Title     *string
	Content   *string
	Category  *string
	Keywords  *string
	Embedding []float32
	Metadata  map[string]any
	Priority  *int
	Active    *bool
}

// SearchKnowledge is a semantic search request. Embedding carries the query
// vector; Query carries the raw text for the keyword fallback path.
type SearchKnowledge struct {
	TenantID      string
	Embedding     []float32
	Query         string
	Kinds         []KnowledgeKind
	Limit         int
	MinSimilarity float64
}

// ScoredKnowledgeEntry pairs an entry with its similarity in [0,1].
type ScoredKnowledgeEntry struct {
	Entry      *KnowledgeEntry
	Similarity float64
}
