// Package sqlite implements the store driver on SQLite for development and
// testing. It is best-effort: everything the postgres driver does is
// supported except vector search, which reports
// errdef.ErrVectorSearchUnavailable so callers fall back to keyword scoring.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/conversia-ai/conversia/internal/profile"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database file named by the profile DSN.
//
// Pragmas follow the modernc.org/sqlite convention (`_pragma=`):
// WAL journal mode avoids writer starvation and busy_timeout smooths over
// the single-writer limitation. The pool is pinned to one connection, which
// is optimal for WAL and makes read-modify-write sequences safe without
// row locks.
func NewDB(profile *profile.Profile) (*DB, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

// Migrate creates the schema. Statements are idempotent so repeated startup
// runs are safe.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range migrationStatements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migration failed: %s", firstLine(stmt))
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i > 0 {
		return s[:i]
	}
	return s
}

// The schema mirrors the postgres driver with two deviations: the knowledge
// embedding is stored as JSON text instead of a vector column, and the
// channel credential is a BLOB.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenant (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		channel_number TEXT NOT NULL DEFAULT '',
		channel_credential BLOB,
		allowed_languages TEXT NOT NULL DEFAULT '[]',
		quiet_hours_start TEXT NOT NULL DEFAULT '',
		quiet_hours_end TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT 'UTC',
		monthly_message_limit INTEGER NOT NULL DEFAULT 0,
		max_catalog_entries INTEGER NOT NULL DEFAULT 0,
		campaign_quota INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tenant_channel_number ON tenant (channel_number) WHERE channel_number <> ''`,
	`CREATE TABLE IF NOT EXISTS tenant_member (
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_ts BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS api_key (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		prefix TEXT NOT NULL,
		hash_hex TEXT NOT NULL,
		creator_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		last_used_ts BIGINT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_api_key_hash ON api_key (hash_hex)`,
	`CREATE TABLE IF NOT EXISTS agent_configuration (
		tenant_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		persona_traits TEXT NOT NULL DEFAULT '{}',
		tone TEXT NOT NULL DEFAULT 'friendly',
		default_model TEXT NOT NULL DEFAULT '',
		fallback_models TEXT NOT NULL DEFAULT '[]',
		temperature REAL NOT NULL DEFAULT 0.7,
		max_reply_length INTEGER NOT NULL DEFAULT 500,
		restrictions TEXT NOT NULL DEFAULT '[]',
		disclaimers TEXT NOT NULL DEFAULT '[]',
		confidence_threshold REAL NOT NULL DEFAULT 0.7,
		auto_handoff_topics TEXT NOT NULL DEFAULT '[]',
		max_low_confidence_attempts INTEGER NOT NULL DEFAULT 2,
		suggestions_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		spelling_correction_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		rich_messages_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		document_retrieval_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		database_retrieval_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		internet_retrieval_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		source_attribution_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		feedback_collection_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		feedback_frequency TEXT NOT NULL DEFAULT 'never',
		agent_can_do TEXT NOT NULL DEFAULT '',
		agent_cannot_do TEXT NOT NULL DEFAULT '',
		retrieval_caps TEXT NOT NULL DEFAULT '{}',
		version INTEGER NOT NULL DEFAULT 1,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customer (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		phone TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		locale TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		first_seen_ts BIGINT NOT NULL,
		last_seen_ts BIGINT NOT NULL,
		UNIQUE (tenant_id, phone)
	)`,
	`CREATE TABLE IF NOT EXISTS customer_preferences (
		customer_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		transactional BOOLEAN NOT NULL DEFAULT TRUE,
		reminder BOOLEAN NOT NULL DEFAULT TRUE,
		promotional BOOLEAN NOT NULL DEFAULT FALSE,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS consent_event (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		previous BOOLEAN NOT NULL,
		new BOOLEAN NOT NULL,
		source TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		changed_by TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consent_event_customer ON consent_event (tenant_id, customer_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS conversation (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'open',
		last_intent TEXT NOT NULL DEFAULT '',
		last_intent_confidence REAL NOT NULL DEFAULT 0,
		low_confidence_count INTEGER NOT NULL DEFAULT 0,
		assigned_agent_id TEXT NOT NULL DEFAULT '',
		handoff_ts BIGINT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL,
		last_message_ts BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversation_customer ON conversation (tenant_id, customer_id, updated_ts)`,
	`CREATE TABLE IF NOT EXISTS conversation_context (
		conversation_id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		current_topic TEXT NOT NULL DEFAULT '',
		key_facts TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		last_product_id TEXT NOT NULL DEFAULT '',
		last_service_id TEXT NOT NULL DEFAULT '',
		expires_ts BIGINT NOT NULL DEFAULT 0,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		direction TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		provider_message_id TEXT NOT NULL DEFAULT '',
		delivery_status TEXT NOT NULL DEFAULT '',
		sent_ts BIGINT,
		delivered_ts BIGINT,
		read_ts BIGINT,
		failed_ts BIGINT,
		error_message TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		UNIQUE (conversation_id, seq)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_message_provider_id ON message (conversation_id, provider_message_id) WHERE provider_message_id <> ''`,
	`CREATE TABLE IF NOT EXISTS message_queue (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		message_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		queued_ts BIGINT NOT NULL,
		processed_ts BIGINT,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_queue_conversation ON message_queue (conversation_id, status, queued_ts)`,
	`CREATE TABLE IF NOT EXISTS knowledge_entry (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'general',
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		embedding TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_knowledge_tenant_active ON knowledge_entry (tenant_id, active)`,
	`CREATE TABLE IF NOT EXISTS product (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		stock INTEGER NOT NULL DEFAULT -1,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_product_tenant ON product (tenant_id, active, created_ts, id)`,
	`CREATE TABLE IF NOT EXISTS service (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		price_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		next_available_ts BIGINT NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_service_tenant ON service (tenant_id, active, created_ts, id)`,
	`CREATE TABLE IF NOT EXISTS customer_order (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		items TEXT NOT NULL DEFAULT '[]',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_customer ON customer_order (tenant_id, customer_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS appointment (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		service_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'scheduled',
		scheduled_ts BIGINT NOT NULL,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointment_customer ON appointment (tenant_id, customer_id, scheduled_ts)`,
	`CREATE TABLE IF NOT EXISTS agent_interaction (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		customer_message TEXT NOT NULL DEFAULT '',
		detected_intents TEXT NOT NULL DEFAULT '[]',
		model_used TEXT NOT NULL DEFAULT '',
		context_tokens INTEGER NOT NULL DEFAULT 0,
		processing_ms BIGINT NOT NULL DEFAULT 0,
		reply TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		handoff_triggered BOOLEAN NOT NULL DEFAULT FALSE,
		handoff_reason TEXT NOT NULL DEFAULT '',
		reply_shape TEXT NOT NULL DEFAULT 'text',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interaction_conversation ON agent_interaction (tenant_id, conversation_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS provider_usage (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost REAL NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		finish_reason TEXT NOT NULL DEFAULT '',
		was_failover BOOLEAN NOT NULL DEFAULT FALSE,
		routing_reason TEXT NOT NULL DEFAULT '',
		complexity REAL NOT NULL DEFAULT 0,
		interaction_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_provider_usage_tenant ON provider_usage (tenant_id, created_ts)`,
	`CREATE TABLE IF NOT EXISTS scheduled_message (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		template TEXT NOT NULL DEFAULT '',
		context_map TEXT NOT NULL DEFAULT '{}',
		scheduled_ts BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		recipient_criteria TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL,
		sent_ts BIGINT,
		error_message TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		campaign_id TEXT NOT NULL DEFAULT '',
		variant_name TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_message (status, scheduled_ts)`,
	`CREATE TABLE IF NOT EXISTS message_campaign (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		target_criteria TEXT NOT NULL DEFAULT '',
		default_content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		scheduled_ts BIGINT NOT NULL DEFAULT 0,
		total_recipients INTEGER NOT NULL DEFAULT 0,
		sent_count INTEGER NOT NULL DEFAULT 0,
		delivered_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		read_count INTEGER NOT NULL DEFAULT 0,
		response_count INTEGER NOT NULL DEFAULT 0,
		conversion_count INTEGER NOT NULL DEFAULT 0,
		started_ts BIGINT,
		completed_ts BIGINT,
		creator_id TEXT NOT NULL DEFAULT '',
		created_ts BIGINT NOT NULL,
		updated_ts BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS campaign_variant (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		assigned_count INTEGER NOT NULL DEFAULT 0,
		sent_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		created_ts BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_campaign_variant ON campaign_variant (tenant_id, campaign_id)`,
}
