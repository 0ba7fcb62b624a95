package store

import "github.com/pkg/errors"

// ScheduleStatus is the dispatch lifecycle of a scheduled message. A row
// moves pending -> processing -> {sent, failed}, or pending -> canceled.
// Processing is a transient claim state owned by exactly one dispatcher.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleSent       ScheduleStatus = "sent"
	ScheduleFailed     ScheduleStatus = "failed"
	ScheduleCanceled   ScheduleStatus = "canceled"
)

// ScheduledMessage is one time-based outbound message. CustomerID empty
// means the row is a broadcast seed that expands via RecipientCriteria.
type ScheduledMessage struct {
	ID         string
	TenantID   string
	CustomerID string

	Content    string
	Template   string
	ContextMap map[string]string

	ScheduledTs int64
	Status      ScheduleStatus

	RecipientCriteria string // CEL expression, broadcast rows only
	MessageType       MessageType

	SentTs       *int64
	ErrorMessage string
	MessageID    string // emitted outbound Message, same tenant

	CampaignID  string
	VariantName string

	CreatedTs int64
	UpdatedTs int64
}

// ValidateForCreate enforces creation-time boundary rules: scheduled-at must
// be strictly in the future.
func (m *ScheduledMessage) ValidateForCreate(nowTs int64) error {
	if m.ScheduledTs <= nowTs {
		return errors.New("scheduled_at must be strictly in the future")
	}
	switch m.MessageType {
	case MessageAutomatedTransactional, MessageAutomatedReminder,
		MessageAutomatedReengagement, MessageScheduledPromotional:
	default:
		return errors.Errorf("message type %q cannot be scheduled", m.MessageType)
	}
	return ValidateJSONValue(contextMapAsAny(m.ContextMap))
}

func contextMapAsAny(m map[string]string) any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type FindScheduledMessage struct {
	TenantID   *string // nil scans all tenants (dispatcher poll)
	ID         *string
	CustomerID *string
	Status     *ScheduleStatus
	DueBefore  *int64
	CampaignID *string
	Limit      int
}

// MarkDispatch conditionally swaps the status of a scheduled message. The
// swap applies only if the row still carries Expected; the bool result
// reports whether this caller won the claim.
type MarkDispatch struct {
	ID       string
	Expected ScheduleStatus
	To       ScheduleStatus

	SentTs       *int64
	ErrorMessage *string
	MessageID    *string
	RescheduleTs *int64 // quiet hours push the row to a new time instead
	NowTs        int64
}
