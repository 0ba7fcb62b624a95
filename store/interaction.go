package store

// ReplyShape records the outbound rendering that was actually emitted.
type ReplyShape string

const (
	ReplyShapeText   ReplyShape = "text"
	ReplyShapeButton ReplyShape = "button"
	ReplyShapeList   ReplyShape = "list"
	ReplyShapeMedia  ReplyShape = "media"
)

// IntentRecord is the persisted form of one detected intent.
type IntentRecord struct {
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Category   string            `json:"category"`
	Priority   int               `json:"priority"`
	Slots      map[string]string `json:"slots,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// AgentInteraction is the per-turn audit record: the full inbound/outbound
// pair plus everything the pipeline decided along the way.
type AgentInteraction struct {
	ID             string
	TenantID       string
	ConversationID string

	CustomerMessage string
	DetectedIntents []IntentRecord
	ModelUsed       string
	ContextTokens   int
	ProcessingMs    int64

	Reply            string
	Confidence       float64
	HandoffTriggered bool
	HandoffReason    string
	ReplyShape       ReplyShape

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64

	CreatedTs int64
}

type FindAgentInteraction struct {
	TenantID       string
	ConversationID *string
	Limit          int
}

// ProviderUsage is one ledger row per LLM provider call, written even when
// the call failed.
type ProviderUsage struct {
	ID       string
	TenantID string

	Provider string
	Model    string

	InputTokens  int
	OutputTokens int
	TotalTokens  int

	EstimatedCost float64
	LatencyMs     int64
	Success       bool
	FinishReason  string

	WasFailover   bool
	RoutingReason string
	Complexity    float64

	InteractionID string
	CreatedTs     int64
}

type FindProviderUsage struct {
	TenantID      string
	Provider      *string
	Success       *bool
	InteractionID *string
	Since         *int64
	Limit         int
}
