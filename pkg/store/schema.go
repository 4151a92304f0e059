package store

import (
	"context"
	"fmt"
)

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS intents (
		intent_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		actor_id TEXT,
		raw_packet JSONB NOT NULL,
		canonical_draft JSONB,
		final_canonical JSONB,
		correlation_id TEXT NOT NULL,
		trace_id TEXT,
		response_envelope JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS ix_intents_status ON intents (status)`,
	`CREATE INDEX IF NOT EXISTS ix_intents_actor_id ON intents (actor_id)`,
	`CREATE TABLE IF NOT EXISTS clarifications (
		clarification_id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL REFERENCES intents(intent_id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		question TEXT NOT NULL,
		expected_answer_type TEXT NOT NULL,
		candidates JSONB NOT NULL DEFAULT '[]'::jsonb,
		answer JSONB,
		answered_at TIMESTAMPTZ,
		actor_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_status ON clarifications (status)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_intent_id ON clarifications (intent_id)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_actor_id ON clarifications (actor_id)`,
	`CREATE TABLE IF NOT EXISTS intent_artifacts (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		supersedes_intent_id TEXT,
		received_at TIMESTAMPTZ NOT NULL,
		kind TEXT NOT NULL,
		intent_type TEXT,
		action TEXT,
		status TEXT NOT NULL,
		idempotency_key TEXT,
		artifact_version INTEGER NOT NULL DEFAULT 1,
		artifact_hash TEXT NOT NULL,
		artifact JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_intent_id ON intent_artifacts (intent_id)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_received_at ON intent_artifacts (received_at)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_status ON intent_artifacts (status)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_intent_type ON intent_artifacts (intent_type)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_action ON intent_artifacts (action)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_idempotency_key ON intent_artifacts (idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_artifact ON intent_artifacts USING GIN (artifact)`,
}

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS intents (
		intent_id TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		actor_id TEXT,
		raw_packet TEXT NOT NULL,
		canonical_draft TEXT,
		final_canonical TEXT,
		correlation_id TEXT NOT NULL,
		trace_id TEXT,
		response_envelope TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_intents_status ON intents (status)`,
	`CREATE INDEX IF NOT EXISTS ix_intents_actor_id ON intents (actor_id)`,
	`CREATE TABLE IF NOT EXISTS clarifications (
		clarification_id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL REFERENCES intents(intent_id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		question TEXT NOT NULL,
		expected_answer_type TEXT NOT NULL,
		candidates TEXT NOT NULL DEFAULT '[]',
		answer TEXT,
		answered_at TIMESTAMP,
		actor_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_status ON clarifications (status)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_intent_id ON clarifications (intent_id)`,
	`CREATE INDEX IF NOT EXISTS ix_clarifications_actor_id ON clarifications (actor_id)`,
	`CREATE TABLE IF NOT EXISTS intent_artifacts (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		supersedes_intent_id TEXT,
		received_at TIMESTAMP NOT NULL,
		kind TEXT NOT NULL,
		intent_type TEXT,
		action TEXT,
		status TEXT NOT NULL,
		idempotency_key TEXT,
		artifact_version INTEGER NOT NULL DEFAULT 1,
		artifact_hash TEXT NOT NULL,
		artifact TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_intent_id ON intent_artifacts (intent_id)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_received_at ON intent_artifacts (received_at)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_status ON intent_artifacts (status)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_intent_type ON intent_artifacts (intent_type)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_action ON intent_artifacts (action)`,
	`CREATE INDEX IF NOT EXISTS ix_intent_artifacts_idempotency_key ON intent_artifacts (idempotency_key)`,
}

// Init creates the schema if it does not exist. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	ddl := sqliteDDL
	if s.dialect == DialectPostgres {
		ddl = postgresDDL
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}
