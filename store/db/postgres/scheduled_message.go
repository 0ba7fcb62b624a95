package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var scheduledMessageColumns = `
	id, tenant_id, customer_id, content, template, context_map, scheduled_ts, status,
	recipient_criteria, message_type, sent_ts, error_message, message_id,
	campaign_id, variant_name, created_ts, updated_ts`

func scanScheduledMessage(scan func(dest ...any) error) (*store.ScheduledMessage, error) {
	m := &store.ScheduledMessage{}
	var contextMap string
	if err := scan(
		&m.ID, &m.TenantID, &m.CustomerID, &m.Content, &m.Template, &contextMap,
		&m.ScheduledTs, &m.Status, &m.RecipientCriteria, &m.MessageType,
		&m.SentTs, &m.ErrorMessage, &m.MessageID,
		&m.CampaignID, &m.VariantName, &m.CreatedTs, &m.UpdatedTs,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contextMap, &m.ContextMap); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) CreateScheduledMessage(ctx context.Context, create *store.ScheduledMessage) (*store.ScheduledMessage, error) {
	contextMap, err := marshalJSON(create.ContextMap)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO scheduled_message (` + scheduledMessageColumns + `)
		VALUES (` + placeholders(17) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.CustomerID, create.Content, create.Template, contextMap,
		create.ScheduledTs, create.Status, create.RecipientCriteria, create.MessageType,
		create.SentTs, create.ErrorMessage, create.MessageID,
		create.CampaignID, create.VariantName, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create scheduled message")
	}
	return create, nil
}

func (d *DB) GetScheduledMessage(ctx context.Context, find *store.FindScheduledMessage) (*store.ScheduledMessage, error) {
	find.Limit = 1
	list, err := d.ListScheduledMessages(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(errdef.ErrNotFound, "scheduled message not found")
	}
	return list[0], nil
}

func (d *DB) ListScheduledMessages(ctx context.Context, find *store.FindScheduledMessage) ([]*store.ScheduledMessage, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.TenantID != nil {
		where, args = append(where, "tenant_id = "+placeholder(len(args)+1)), append(args, *find.TenantID)
	}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.CustomerID != nil {
		where, args = append(where, "customer_id = "+placeholder(len(args)+1)), append(args, *find.CustomerID)
	}
	if find.Status != nil {
		where, args = append(where, "status = "+placeholder(len(args)+1)), append(args, *find.Status)
	}
	if find.DueBefore != nil {
		where, args = append(where, "scheduled_ts <= "+placeholder(len(args)+1)), append(args, *find.DueBefore)
	}
	if find.CampaignID != nil {
		where, args = append(where, "campaign_id = "+placeholder(len(args)+1)), append(args, *find.CampaignID)
	}

	query := `SELECT ` + scheduledMessageColumns + ` FROM scheduled_message
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY scheduled_ts ASC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled messages")
	}
	defer rows.Close()

	list := []*store.ScheduledMessage{}
	for rows.Next() {
		m, err := scanScheduledMessage(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scheduled messages")
	}
	return list, nil
}

// MarkDispatch conditionally swaps the dispatch status. The update applies
// only while the row still carries mark.Expected; the bool result reports
// whether this caller won, which is what gives at-most-once delivery under
// concurrent dispatcher workers.
func (d *DB) MarkDispatch(ctx context.Context, mark *store.MarkDispatch) (bool, error) {
	set, args := []string{}, []any{}

	set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, mark.To)
	if mark.SentTs != nil {
		set, args = append(set, "sent_ts = "+placeholder(len(args)+1)), append(args, *mark.SentTs)
	}
	if mark.ErrorMessage != nil {
		set, args = append(set, "error_message = "+placeholder(len(args)+1)), append(args, *mark.ErrorMessage)
	}
	if mark.MessageID != nil {
		set, args = append(set, "message_id = "+placeholder(len(args)+1)), append(args, *mark.MessageID)
	}
	if mark.RescheduleTs != nil {
		set, args = append(set, "scheduled_ts = "+placeholder(len(args)+1)), append(args, *mark.RescheduleTs)
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, mark.NowTs)

	args = append(args, mark.ID, mark.Expected)
	stmt := `UPDATE scheduled_message SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)-1) + ` AND status = ` + placeholder(len(args))

	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, errors.Wrap(err, "failed to mark dispatch")
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}
