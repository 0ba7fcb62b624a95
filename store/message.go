package store

import "github.com/pkg/errors"

// MaxMessageTextLength bounds message text. 10,000 chars is accepted,
// 10,001 is rejected.
const MaxMessageTextLength = 10000

// MessageDirection is inbound or outbound relative to the tenant.
type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

// MessageType classifies who or what produced the message.
type MessageType string

const (
	MessageCustomerInbound        MessageType = "customer_inbound"
	MessageBotResponse            MessageType = "bot_response"
	MessageAutomatedTransactional MessageType = "automated_transactional"
	MessageAutomatedReminder      MessageType = "automated_reminder"
	MessageAutomatedReengagement  MessageType = "automated_reengagement"
	MessageScheduledPromotional   MessageType = "scheduled_promotional"
	MessageManualOutbound         MessageType = "manual_outbound"
)

// DeliveryStatus advances monotonically: sent -> delivered -> read, or any
// of them -> failed. Empty means no receipt yet.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

var deliveryRank = map[DeliveryStatus]int{
	"":                0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
	DeliveryFailed:    4,
}

// CanAdvanceDelivery reports whether moving from one delivery status to
// another respects the monotonic order.
func CanAdvanceDelivery(from, to DeliveryStatus) bool {
	if to == DeliveryFailed {
		return from != DeliveryFailed
	}
	return deliveryRank[to] > deliveryRank[from]
}

// Message is one append-only entry in a conversation. Seq is assigned by the
// store at append time and is strictly monotonic per conversation.
type Message struct {
	ID             string
	TenantID       string
	ConversationID string
	Seq            int64

	Direction MessageDirection
	Type      MessageType
	Text      string

	ProviderMessageID string
	DeliveryStatus    DeliveryStatus
	SentTs            *int64
	DeliveredTs       *int64
	ReadTs            *int64
	FailedTs          *int64
	ErrorMessage      string

	CreatedTs int64
}

// ValidateText enforces the message length bound.
func (m *Message) ValidateText() error {
	if len([]rune(m.Text)) > MaxMessageTextLength {
		return errors.Errorf("message text exceeds %d characters", MaxMessageTextLength)
	}
	return nil
}

type FindMessage struct {
	TenantID       string
	ConversationID string
	// Limit selects the most recent N messages; the result is returned in
	// chronological order regardless.
	Limit int
}

// UpdateMessageDelivery advances the delivery status of a message; the
// driver refuses non-monotonic transitions.
type UpdateMessageDelivery struct {
	TenantID          string
	ID                string
	ProviderMessageID *string // alternative lookup for webhook receipts
	Status            DeliveryStatus
	StatusTs          int64
	ErrorMessage      string
}
