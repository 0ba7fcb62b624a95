package store

// ConversationState is the lifecycle state of a conversation.
type ConversationState string

const (
	ConversationOpen       ConversationState = "open"
	ConversationBotHandled ConversationState = "bot_handled"
	ConversationHandedOff  ConversationState = "handed_off"
	ConversationClosed     ConversationState = "closed"
	ConversationDormant    ConversationState = "dormant"
)

// Conversation owns an append-only sequence of messages between one customer
// and one tenant on one channel.
type Conversation struct {
	ID         string
	TenantID   string
	CustomerID string
	Channel    string // e.g. "whatsapp", "telegram"

	State                ConversationState
	LastIntent           string
	LastIntentConfidence float64
	LowConfidenceCount   int
	AssignedAgentID      string
	HandoffTs            *int64
	Metadata             map[string]any

	CreatedTs     int64
	UpdatedTs     int64
	LastMessageTs int64
}

type FindConversation struct {
	TenantID   string
	ID         *string
	CustomerID *string
	State      *ConversationState
	// LastActivityBefore keeps conversations whose latest activity, the
	// later of last message and creation, predates the instant.
	LastActivityBefore *int64
	Limit              int
	Offset             int
}

type UpdateConversation struct {
	TenantID string
	ID       string

	LastIntent           *string
	LastIntentConfidence *float64
	AssignedAgentID      *string
	Metadata             map[string]any
	LastMessageTs        *int64
}

// ConversationTransition moves a conversation between states conditionally:
// the update applies only while the current state is one of From. Reason is
// recorded in the conversation metadata.
type ConversationTransition struct {
	TenantID string
	ID       string
	From     []ConversationState
	To       ConversationState
	Reason   string
	NowTs    int64
}

// ConversationContext is the long-lived soft memory attached 1:1 to a
// conversation. On expiry the topic, summary and last-referenced items are
// cleared; key facts are preserved into the fresh record.
type ConversationContext struct {
	ConversationID string
	TenantID       string

	CurrentTopic  string
	KeyFacts      []string
	Summary       string
	LastProductID string
	LastServiceID string

	ExpiresTs int64
	UpdatedTs int64
}

// Expired reports whether the context has passed its expiry at the given
// instant.
func (c *ConversationContext) Expired(nowTs int64) bool {
	return c.ExpiresTs != 0 && c.ExpiresTs <= nowTs
}
