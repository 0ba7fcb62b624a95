package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/store"
)

var agentConfigurationColumns = `
	tenant_id, display_name, persona_traits, tone, default_model, fallback_models,
	temperature, max_reply_length, restrictions, disclaimers,
	confidence_threshold, auto_handoff_topics, max_low_confidence_attempts,
	suggestions_enabled, spelling_correction_enabled, rich_messages_enabled,
	document_retrieval_enabled, database_retrieval_enabled, internet_retrieval_enabled,
	source_attribution_enabled, feedback_collection_enabled, feedback_frequency,
	agent_can_do, agent_cannot_do, retrieval_caps, version, created_ts, updated_ts`

// UpsertAgentConfiguration writes the tenant configuration, bumping the
// stored version on every conflict update.
func (d *DB) UpsertAgentConfiguration(ctx context.Context, upsert *store.AgentConfiguration) (*store.AgentConfiguration, error) {
	traits, err := marshalJSON(upsert.PersonaTraits)
	if err != nil {
		return nil, err
	}
	fallbacks, err := marshalStringSlice(upsert.FallbackModels)
	if err != nil {
		return nil, err
	}
	restrictions, err := marshalStringSlice(upsert.Restrictions)
	if err != nil {
		return nil, err
	}
	disclaimers, err := marshalStringSlice(upsert.Disclaimers)
	if err != nil {
		return nil, err
	}
	topics, err := marshalStringSlice(upsert.AutoHandoffTopics)
	if err != nil {
		return nil, err
	}
	caps, err := marshalJSON(upsert.RetrievalCaps)
	if err != nil {
		return nil, err
	}
	if upsert.Version == 0 {
		upsert.Version = 1
	}

	stmt := `INSERT INTO agent_configuration (` + agentConfigurationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			display_name = excluded.display_name,
			persona_traits = excluded.persona_traits,
			tone = excluded.tone,
			default_model = excluded.default_model,
			fallback_models = excluded.fallback_models,
			temperature = excluded.temperature,
			max_reply_length = excluded.max_reply_length,
			restrictions = excluded.restrictions,
			disclaimers = excluded.disclaimers,
			confidence_threshold = excluded.confidence_threshold,
			auto_handoff_topics = excluded.auto_handoff_topics,
			max_low_confidence_attempts = excluded.max_low_confidence_attempts,
			suggestions_enabled = excluded.suggestions_enabled,
			spelling_correction_enabled = excluded.spelling_correction_enabled,
			rich_messages_enabled = excluded.rich_messages_enabled,
			document_retrieval_enabled = excluded.document_retrieval_enabled,
			database_retrieval_enabled = excluded.database_retrieval_enabled,
			internet_retrieval_enabled = excluded.internet_retrieval_enabled,
			source_attribution_enabled = excluded.source_attribution_enabled,
			feedback_collection_enabled = excluded.feedback_collection_enabled,
			feedback_frequency = excluded.feedback_frequency,
			agent_can_do = excluded.agent_can_do,
			agent_cannot_do = excluded.agent_cannot_do,
			retrieval_caps = excluded.retrieval_caps,
			version = agent_configuration.version + 1,
			updated_ts = excluded.updated_ts
		RETURNING version, created_ts`

	err = d.db.QueryRowContext(ctx, stmt,
		upsert.TenantID, upsert.DisplayName, traits, upsert.Tone, upsert.DefaultModel, fallbacks,
		upsert.Temperature, upsert.MaxReplyLength, restrictions, disclaimers,
		upsert.ConfidenceThreshold, topics, upsert.MaxLowConfidenceAttempts,
		upsert.SuggestionsEnabled, upsert.SpellingCorrectionEnabled, upsert.RichMessagesEnabled,
		upsert.DocumentRetrievalEnabled, upsert.DatabaseRetrievalEnabled, upsert.InternetRetrievalEnabled,
		upsert.SourceAttributionEnabled, upsert.FeedbackCollectionEnabled, upsert.FeedbackFrequency,
		upsert.AgentCanDo, upsert.AgentCannotDo, caps, upsert.Version, upsert.CreatedTs, upsert.UpdatedTs,
	).Scan(&upsert.Version, &upsert.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert agent configuration")
	}
	return upsert, nil
}

func (d *DB) GetAgentConfiguration(ctx context.Context, tenantID string) (*store.AgentConfiguration, error) {
	query := `SELECT ` + agentConfigurationColumns + ` FROM agent_configuration WHERE tenant_id = ?`

	c := &store.AgentConfiguration{}
	var traits, fallbacks, restrictions, disclaimers, topics, caps string
	err := d.db.QueryRowContext(ctx, query, tenantID).Scan(
		&c.TenantID, &c.DisplayName, &traits, &c.Tone, &c.DefaultModel, &fallbacks,
		&c.Temperature, &c.MaxReplyLength, &restrictions, &disclaimers,
		&c.ConfidenceThreshold, &topics, &c.MaxLowConfidenceAttempts,
		&c.SuggestionsEnabled, &c.SpellingCorrectionEnabled, &c.RichMessagesEnabled,
		&c.DocumentRetrievalEnabled, &c.DatabaseRetrievalEnabled, &c.InternetRetrievalEnabled,
		&c.SourceAttributionEnabled, &c.FeedbackCollectionEnabled, &c.FeedbackFrequency,
		&c.AgentCanDo, &c.AgentCannotDo, &caps, &c.Version, &c.CreatedTs, &c.UpdatedTs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errdef.ErrNotFound, "agent configuration for tenant %s", tenantID)
		}
		return nil, errors.Wrap(err, "failed to get agent configuration")
	}
	if err := unmarshalJSON(traits, &c.PersonaTraits); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fallbacks, &c.FallbackModels); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(restrictions, &c.Restrictions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(disclaimers, &c.Disclaimers); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(topics, &c.AutoHandoffTopics); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(caps, &c.RetrievalCaps); err != nil {
		return nil, err
	}
	return c, nil
}
