package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/store"
)

func (d *DB) CreateAgentInteraction(ctx context.Context, create *store.AgentInteraction) (*store.AgentInteraction, error) {
	intents, err := marshalJSON(create.DetectedIntents)
	if err != nil {
		return nil, err
	}
	stmt := `INSERT INTO agent_interaction
			(id, tenant_id, conversation_id, customer_message, detected_intents, model_used,
			context_tokens, processing_ms, reply, confidence, handoff_triggered, handoff_reason,
			reply_shape, prompt_tokens, completion_tokens, total_tokens, estimated_cost, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.ConversationID, create.CustomerMessage, intents, create.ModelUsed,
		create.ContextTokens, create.ProcessingMs, create.Reply, create.Confidence,
		create.HandoffTriggered, create.HandoffReason,
		create.ReplyShape, create.PromptTokens, create.CompletionTokens, create.TotalTokens,
		create.EstimatedCost, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create agent interaction")
	}
	return create, nil
}

func (d *DB) ListAgentInteractions(ctx context.Context, find *store.FindAgentInteraction) ([]*store.AgentInteraction, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}

	query := `SELECT id, tenant_id, conversation_id, customer_message, detected_intents, model_used,
			context_tokens, processing_ms, reply, confidence, handoff_triggered, handoff_reason,
			reply_shape, prompt_tokens, completion_tokens, total_tokens, estimated_cost, created_ts
		FROM agent_interaction
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agent interactions")
	}
	defer rows.Close()

	list := []*store.AgentInteraction{}
	for rows.Next() {
		i := &store.AgentInteraction{}
		var intents string
		if err := rows.Scan(
			&i.ID, &i.TenantID, &i.ConversationID, &i.CustomerMessage, &intents, &i.ModelUsed,
			&i.ContextTokens, &i.ProcessingMs, &i.Reply, &i.Confidence, &i.HandoffTriggered, &i.HandoffReason,
			&i.ReplyShape, &i.PromptTokens, &i.CompletionTokens, &i.TotalTokens, &i.EstimatedCost, &i.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan agent interaction")
		}
		if err := unmarshalJSON(intents, &i.DetectedIntents); err != nil {
			return nil, err
		}
		list = append(list, i)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate agent interactions")
	}
	return list, nil
}

func (d *DB) CreateProviderUsage(ctx context.Context, create *store.ProviderUsage) (*store.ProviderUsage, error) {
	stmt := `INSERT INTO provider_usage
			(id, tenant_id, provider, model, input_tokens, output_tokens, total_tokens,
			estimated_cost, latency_ms, success, finish_reason, was_failover,
			routing_reason, complexity, interaction_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.TenantID, create.Provider, create.Model,
		create.InputTokens, create.OutputTokens, create.TotalTokens,
		create.EstimatedCost, create.LatencyMs, create.Success, create.FinishReason,
		create.WasFailover, create.RoutingReason, create.Complexity,
		create.InteractionID, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create provider usage")
	}
	return create, nil
}

func (d *DB) ListProviderUsage(ctx context.Context, find *store.FindProviderUsage) ([]*store.ProviderUsage, error) {
	where, args := []string{"tenant_id = ?"}, []any{find.TenantID}
	if find.Provider != nil {
		where, args = append(where, "provider = ?"), append(args, *find.Provider)
	}
	if find.Success != nil {
		where, args = append(where, "success = ?"), append(args, *find.Success)
	}
	if find.InteractionID != nil {
		where, args = append(where, "interaction_id = ?"), append(args, *find.InteractionID)
	}
	if find.Since != nil {
		where, args = append(where, "created_ts >= ?"), append(args, *find.Since)
	}

	query := `SELECT id, tenant_id, provider, model, input_tokens, output_tokens, total_tokens,
			estimated_cost, latency_ms, success, finish_reason, was_failover,
			routing_reason, complexity, interaction_id, created_ts
		FROM provider_usage
		WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_ts DESC`
	if find.Limit > 0 {
		args = append(args, find.Limit)
		query += " LIMIT ?"
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list provider usage")
	}
	defer rows.Close()

	list := []*store.ProviderUsage{}
	for rows.Next() {
		u := &store.ProviderUsage{}
		if err := rows.Scan(
			&u.ID, &u.TenantID, &u.Provider, &u.Model,
			&u.InputTokens, &u.OutputTokens, &u.TotalTokens,
			&u.EstimatedCost, &u.LatencyMs, &u.Success, &u.FinishReason,
			&u.WasFailover, &u.RoutingReason, &u.Complexity,
			&u.InteractionID, &u.CreatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan provider usage")
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate provider usage")
	}
	return list, nil
}
