package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var messageColumns = `
	id, tenant_id, conversation_id, seq, direction, type, text,
	provider_message_id, delivery_status, sent_ts, delivered_ts, read_ts, failed_ts,
	error_message, created_ts`

func scanMessage(scan func(dest ...any) error) (*store.Message, error) {
	m := &store.Message{}
	if err := scan(
		&m.ID, &m.TenantID, &m.ConversationID, &m.Seq, &m.Direction, &m.Type, &m.Text,
		&m.ProviderMessageID, &m.DeliveryStatus, &m.SentTs, &m.DeliveredTs, &m.ReadTs, &m.FailedTs,
		&m.ErrorMessage, &m.CreatedTs,
	); err != nil {
		return nil, err
	}
	return m, nil
}

// AppendMessage assigns the next per-conversation sequence number and stamps
// the conversation's last-message timestamp in the same transaction. The
// single-connection pool serializes appends, so MAX(seq)+1 stays race-free
// without the row lock the postgres driver takes.
func (d *DB) AppendMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx,
		`SELECT TRUE FROM conversation WHERE tenant_id = ? AND id = ?`,
		create.TenantID, create.ConversationID,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "conversation %s", create.ConversationID)
		}
		return nil, errors.Wrap(err, "failed to check conversation")
	}

	stmt := `INSERT INTO message (` + messageColumns + `)
		SELECT ?, ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM message WHERE conversation_id = ?
		RETURNING seq`
	err = tx.QueryRowContext(ctx, stmt,
		create.ID, create.TenantID, create.ConversationID,
		create.Direction, create.Type, create.Text,
		create.ProviderMessageID, create.DeliveryStatus,
		create.SentTs, create.DeliveredTs, create.ReadTs, create.FailedTs,
		create.ErrorMessage, create.CreatedTs,
		create.ConversationID,
	).Scan(&create.Seq)
	if err != nil {
		if strings.Contains(err.Error(), "provider_message_id") {
			return nil, errors.Wrapf(errdef.ErrConflict, "provider message %s already appended", create.ProviderMessageID)
		}
		return nil, errors.Wrap(err, "failed to append message")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversation SET last_message_ts = ?, updated_ts = ? WHERE id = ?`,
		create.CreatedTs, create.CreatedTs, create.ConversationID,
	); err != nil {
		return nil, errors.Wrap(err, "failed to stamp conversation")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit message append")
	}
	return create, nil
}

// ListMessages returns the most recent N messages in chronological order.
func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	args := []any{find.TenantID, find.ConversationID}
	query := `SELECT ` + messageColumns + ` FROM message
		WHERE tenant_id = ? AND conversation_id = ?
		ORDER BY seq DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	// Reverse into chronological order.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// UpdateMessageDelivery advances a message's delivery status, refusing
// non-monotonic transitions.
func (d *DB) UpdateMessageDelivery(ctx context.Context, update *store.UpdateMessageDelivery) (*store.Message, error) {
	where, args := []string{"tenant_id = ?"}, []any{update.TenantID}
	if update.ProviderMessageID != nil {
		where, args = append(where, "provider_message_id = ?"), append(args, *update.ProviderMessageID)
	} else {
		where, args = append(where, "id = ?"), append(args, update.ID)
	}

	query := `SELECT ` + messageColumns + ` FROM message WHERE ` + strings.Join(where, " AND ")
	m, err := scanMessage(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errdef.ErrNotFound, "message not found")
		}
		return nil, errors.Wrap(err, "failed to load message")
	}
	if !store.CanAdvanceDelivery(m.DeliveryStatus, update.Status) {
		return nil, errors.Wrapf(errdef.ErrConflict, "delivery cannot move %s -> %s", m.DeliveryStatus, update.Status)
	}

	tsColumn := map[store.DeliveryStatus]string{
		store.DeliverySent:      "sent_ts",
		store.DeliveryDelivered: "delivered_ts",
		store.DeliveryRead:      "read_ts",
		store.DeliveryFailed:    "failed_ts",
	}[update.Status]

	stmt := `UPDATE message SET delivery_status = ?, ` + tsColumn + ` = ?, error_message = ?
		WHERE id = ?
		RETURNING ` + messageColumns
	m, err = scanMessage(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, stmt, update.Status, update.StatusTs, update.ErrorMessage, m.ID).Scan(dest...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to update message delivery")
	}
	return m, nil
}
