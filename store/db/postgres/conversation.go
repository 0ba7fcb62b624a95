package postgres

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
		VALUES (` + placeholders(14) + `)`
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
	where, args := []string{"tenant_id = " + placeholder(1)}, []any{find.TenantID}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.CustomerID != nil {
		where, args = append(where, "customer_id = "+placeholder(len(args)+1)), append(args, *find.CustomerID)
	}
	if find.State != nil {
		where, args = append(where, "state = "+placeholder(len(args)+1)), append(args, *find.State)
	}
	if find.LastActivityBefore != nil {
		where, args = append(where, "GREATEST(last_message_ts, created_ts) < "+placeholder(len(args)+1)), append(args, *find.LastActivityBefore)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversation
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT " + placeholder(len(args))
	}
	if find.Offset > 0 {
		args = append(args, find.Offset)
		query += " OFFSET " + placeholder(len(args))
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
		set, args = append(set, "last_intent = "+placeholder(len(args)+1)), append(args, *update.LastIntent)
	}
	if update.LastIntentConfidence != nil {
		set, args = append(set, "last_intent_confidence = "+placeholder(len(args)+1)), append(args, *update.LastIntentConfidence)
	}
	if update.AssignedAgentID != nil {
		set, args = append(set, "assigned_agent_id = "+placeholder(len(args)+1)), append(args, *update.AssignedAgentID)
	}
	if update.Metadata != nil {
		metadata, err := marshalJSON(update.Metadata)
		if err != nil {
			return nil, err
		}
		set, args = append(set, "metadata = "+placeholder(len(args)+1)), append(args, metadata)
	}
	if update.LastMessageTs != nil {
		set, args = append(set, "last_message_ts = "+placeholder(len(args)+1)), append(args, *update.LastMessageTs)
	}
	if len(set) == 0 {
		return nil, errors.Wrap(errdef.ErrInputInvalid, "no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, store.NowTs())

	args = append(args, update.TenantID, update.ID)
	stmt := `UPDATE conversation SET ` + strings.Join(set, ", ") + `
		WHERE tenant_id = ` + placeholder(len(args)-1) + ` AND id = ` + placeholder(len(args)) + `
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
	fromList := make([]string, len(transition.From))
	args := []any{transition.To, transition.NowTs, transition.Reason, transition.TenantID, transition.ID}
	for i, st := range transition.From {
		args = append(args, st)
		fromList[i] = placeholder(len(args))
	}

	extra := ""
	if transition.To == store.ConversationHandedOff {
		extra = ", handoff_ts = $2, low_confidence_count = 0"
	}

	stmt := `UPDATE conversation SET
			state = $1,
			updated_ts = $2,
			metadata = metadata::jsonb || jsonb_build_object('last_transition_reason', $3::text)` + extra + `
		WHERE tenant_id = $4 AND id = $5 AND state IN (` + strings.Join(fromList, ", ") + `)
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
		WHERE tenant_id = `+placeholder(1)+` AND id = `+placeholder(2)+`
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
		`UPDATE conversation SET low_confidence_count = 0
		WHERE tenant_id = `+placeholder(1)+` AND id = `+placeholder(2),
		tenantID, conversationID)
	return errors.Wrap(err, "failed to reset low-confidence counter")
}

func (d *DB) GetConversationContext(ctx context.Context, tenantID, conversationID string) (*store.ConversationContext, error) {
	query := `SELECT conversation_id, tenant_id, current_topic, key_facts, summary,
			last_product_id, last_service_id, expires_ts, updated_ts
		FROM conversation_context
		WHERE tenant_id = ` + placeholder(1) + ` AND conversation_id = ` + placeholder(2)

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
		VALUES (` + placeholders(9) + `)
		ON CONFLICT (conversation_id) DO UPDATE SET
			current_topic = EXCLUDED.current_topic,
			key_facts = EXCLUDED.key_facts,
			summary = EXCLUDED.summary,
			last_product_id = EXCLUDED.last_product_id,
			last_service_id = EXCLUDED.last_service_id,
			expires_ts = EXCLUDED.expires_ts,
			updated_ts = EXCLUDED.updated_ts`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.ConversationID, upsert.TenantID, upsert.CurrentTopic, facts, upsert.Summary,
		upsert.LastProductID, upsert.LastServiceID, upsert.ExpiresTs, upsert.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert conversation context")
	}
	return upsert, nil
}
