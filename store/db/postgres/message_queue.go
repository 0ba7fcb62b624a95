package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/store"
)

func (d *DB) EnqueueMessage(ctx context.Context, create *store.MessageQueueEntry) (*store.MessageQueueEntry, error) {
	stmt := `INSERT INTO message_queue (id, tenant_id, conversation_id, message_id, text, status, queued_ts)
		VALUES (` + placeholders(7) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.ConversationID, create.MessageID, create.Text,
		create.Status, create.QueuedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to enqueue message")
	}
	return create, nil
}

// ClaimQueuedEntries atomically flips every queued entry of the conversation
// older than olderThanTs to processing, but only when no processing batch
// exists for that conversation. The claimed batch comes back in arrival
// order; an empty result means nothing was ready or another batch is live.
func (d *DB) ClaimQueuedEntries(ctx context.Context, tenantID, conversationID string, olderThanTs int64) ([]*store.MessageQueueEntry, error) {
	stmt := `UPDATE message_queue SET status = 'processing'
		WHERE tenant_id = $1 AND conversation_id = $2
			AND status = 'queued' AND queued_ts <= $3
			AND NOT EXISTS (
				SELECT 1 FROM message_queue
				WHERE conversation_id = $2 AND status = 'processing'
			)
		RETURNING id, tenant_id, conversation_id, message_id, text, status, queued_ts, processed_ts, error_message`

	rows, err := d.db.QueryContext(ctx, stmt, tenantID, conversationID, olderThanTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim queued entries")
	}
	defer rows.Close()

	list := []*store.MessageQueueEntry{}
	for rows.Next() {
		e := &store.MessageQueueEntry{}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConversationID, &e.MessageID, &e.Text, &e.Status, &e.QueuedTs, &e.ProcessedTs, &e.ErrorMessage); err != nil {
			return nil, errors.Wrap(err, "failed to scan queue entry")
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate queue entries")
	}

	// RETURNING carries no ORDER BY guarantee; sort by enqueue time, then id
	// for a stable tie-break.
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && (list[j].QueuedTs < list[j-1].QueuedTs ||
			(list[j].QueuedTs == list[j-1].QueuedTs && list[j].ID < list[j-1].ID)); j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
	return list, nil
}

func (d *DB) MarkQueueEntries(ctx context.Context, ids []string, status store.QueueStatus, processedTs int64, errorMessage string) error {
	if len(ids) == 0 {
		return nil
	}
	args := []any{status, processedTs, errorMessage}
	marks := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		marks[i] = placeholder(len(args))
	}
	stmt := `UPDATE message_queue SET status = $1, processed_ts = $2, error_message = $3
		WHERE id IN (` + strings.Join(marks, ", ") + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to mark queue entries")
	}
	return nil
}
