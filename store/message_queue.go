package store

// QueueStatus is the lifecycle of a burst-buffer slot.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusProcessed  QueueStatus = "processed"
	QueueStatusFailed     QueueStatus = "failed"
)

// MessageQueueEntry buffers one inbound message for burst harmonization.
// Text is denormalized from the message row so a claimed batch can be
// concatenated without a join. At most one batch per conversation may be in
// processing state; ClaimQueuedEntries enforces this with a conditional
// update.
type MessageQueueEntry struct {
	ID             string
	TenantID       string
	ConversationID string
	MessageID      string
	Text           string

	Status       QueueStatus
	QueuedTs     int64
	ProcessedTs  *int64
	ErrorMessage string
}

type FindMessageQueueEntry struct {
	TenantID       string
	ConversationID *string
	Status         *QueueStatus
}
