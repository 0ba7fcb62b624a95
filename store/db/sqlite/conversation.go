package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var conversationColumns = `
	id, tenant_id, customer_id, channel, state, last_intent, last_intent_confidence,
	low_confidence_count, assigned_agent_id, handoff_ts, metadata,
	created_ts, updated_ts, last_message_ts`

func scanConversation(scan func(dest ...any) error) (*store.Conversation, error) {
	c := &store.Conversation{}
	var metadata string
	if err := scan(
		&c.ID, &c.TenantID, &c.CustomerID, &c.Channel, &c.State, &c.LastIntent, &c.LastIntentConfidence,
		&c.LowConfidenceCount, &c.AssignedAgentID, &c.HandoffTs, &metadata,
		&c.CreatedTs, &c.UpdatedTs, &c.LastMessageTs,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &c.Metadata); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	metadata, err := marshalJSON(create.Metadata)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO conversation (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.CustomerID, create.Channel, create.State,
		create.LastIntent, create.LastIntentConfidence, create.LowConfidenceCount,
		create.AssignedAgentID, create.HandoffTs, metadata,
		create.CreatedTs, create.UpdatedTs, create.LastMessageTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return create, nil
}

func (d *DB) GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error) {
	find.Limit = 1
	list, err := d.ListConversations(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrap(errdef.ErrNotFound, "conversation not found")
	}
	return list[0], nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.CustomerID != nil {
		where, args = append(where, "customer_id = ?"), append(args, *find.CustomerID)
	}
	if find.State != nil {
		where, args = append(where, "state = ?"), append(args, *find.State)
	}
	if find.LastActivityBefore != nil {
		where, args = append(where, "max(last_message_ts, created_ts) < ?"), append(args, *find.LastActivityBefore)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversation
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}
	if find.Offset > 0 {
		args = append(args, find.Offset)
		query += " OFFSET ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate conversations")
	}
	return list, nil
}

func (d *DB) UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	set, args := []string{}, []any{}

	if update.LastIntent != nil {
		set, args = append(set, "last_intent = ?"), append(args, *update.LastIntent)
	}
	if update.LastIntentConfidence != nil {
		set, args = append(set, "last_intent_confidence = ?"), append(args, *update.LastIntentConfidence)
	}
	if update.AssignedAgentID != nil {
		set, args = append(set, "assigned_agent_id = ?"), append(args, *update.AssignedAgentID)
	}
	if update.Metadata != nil {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = ?"), append(args, metadata)
	}
	if update.LastMessageTs != nil {
		set, args = append(set, "last_message_ts = ?"), append(args, *update.LastMessageTs)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}
	set, args = append(set, "updated_ts = ?"), append(args, store.NowTs())

	args = append(args, update.TenantID, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ? AND id = ?
		RETURNING ` + conversationColumns

	c, err := scanConversation(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, stmt, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "conversation %s", update.ID)
		}
		return nil, errors.Wrap(err, "failed to update conversation")
	}
	return c, nil
}

// TransitionConversationState moves a conversation between states only if
// the current state is one of transition.From. Handoffs also stamp the
// handoff timestamp and reset the low-confidence counter.
func (d *DB) TransitionConversationState(ctx context.Context, transition *store.ConversationTransition) (*store.Conversation, error) {
	set := []string{
		"state = ?",
		"updated_ts = ?",
		"metadata = json_set(metadata, '$.last_transition_reason', ?)",
	}
	args := []any{transition.To, transition.NowTs, transition.Reason}
	if transition.To == store.ConversationHandedOff {
		set = append(set, "handoff_ts = ?", "low_confidence_count = 0")
		args = append(args, transition.NowTs)
	}

	args = append(args, transition.TenantID, transition.ID)
	fromList := make([]string, len(transition.From))
	for i, st := range transition.From {
		args = append(args, st)
		fromList[i] = "?"
	}

	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ? AND id = ? AND state IN (` + strings.Join(fromList, ", ") + `)
		RETURNING ` + conversationColumns

	c, err := scanConversation(func(dest ...any) error {
		return d.db.QueryRowContext(ctx, stmt, args...).Scan(dest...)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrConflict, "conversation %s not in expected state", transition.ID)
		}
		return nil, errors.Wrap(err, "failed to transition conversation")
	}
	return c, nil
}

func (d *DB) IncLowConfidence(ctx context.Context, tenantID, conversationID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		`UPDATE conversation SET low_confidence_count = low_confidence_count + 1
		WHERE tenant_id = ? AND id = ?
		RETURNING low_confidence_count`,
		tenantID, conversationID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errors.Wrapf(errdef.ErrNotFound, "conversation %s", conversationID)
		}
		return 0, errors.Wrap(err, "failed to increment low-confidence counter")
	}
	return count, nil
}

func (d *DB) ResetLowConfidence(ctx context.Context, tenantID, conversationID string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE conversation SET low_confidence_count = 0 WHERE tenant_id = ? AND id = ?`,
		tenantID, conversationID)
	return errors.Wrap(err, "failed to reset low-confidence counter")
}

func (d *DB) GetConversationContext(ctx context.Context, tenantID, conversationID string) (*store.ConversationContext, error) {
	query := `SELECT conversation_id, tenant_id, current_topic, key_facts, summary,
			last_product_id, last_service_id, expires_ts, updated_ts
		FROM conversation_context
		WHERE tenant_id = ? AND conversation_id = ?`

	c := &store.ConversationContext{}
	var facts string
	err := d.db.QueryRowContext(ctx, query, tenantID, conversationID).Scan(
		&c.ConversationID, &c.TenantID, &c.CurrentTopic, &facts, &c.Summary,
		&c.LastProductID, &c.LastServiceID, &c.ExpiresTs, &c.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "context for conversation %s", conversationID)
		}
		return nil, errors.Wrap(err, "failed to get conversation context")
	}
	if err := unmarshalJSON(facts, &c.KeyFacts); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) UpsertConversationContext(ctx context.Context, upsert *store.ConversationContext) (*store.ConversationContext, error) {
	facts, err := marshalStringSlice(upsert.KeyFacts)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO conversation_context
			(conversation_id, tenant_id, current_topic, key_facts, summary,
			last_product_id, last_service_id, expires_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			current_topic = excluded.current_topic,
			key_facts = excluded.key_facts,
			summary = excluded.summary,
			last_product_id = excluded.last_product_id,
			last_service_id = excluded.last_service_id,
			expires_ts = excluded.expires_ts,
			updated_ts = excluded.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ConversationID, upsert.TenantID, upsert.CurrentTopic, facts, upsert.Summary,
		upsert.LastProductID, upsert.LastServiceID, upsert.ExpiresTs, upsert.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert conversation context")
	}
	return upsert, nil
}
