// Package postgres carries the relational schema. The service applies it at
// startup so fresh environments need no separate migration step.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaSQL is the complete schema for a fresh install.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS workbasket (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	approver TEXT,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tariff_transaction (
	id UUID PRIMARY KEY,
	workbasket_id UUID NOT NULL REFERENCES workbasket(id) ON DELETE RESTRICT,
	ord INTEGER NOT NULL,
	partition INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (workbasket_id, ord)
);

CREATE TABLE IF NOT EXISTS version_group (
	id UUID PRIMARY KEY,
	current_version_id UUID
);

CREATE TABLE IF NOT EXISTS tracked_model (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	sid TEXT NOT NULL,
	version_group_id UUID NOT NULL REFERENCES version_group(id) ON DELETE RESTRICT,
	transaction_id UUID NOT NULL REFERENCES tariff_transaction(id) ON DELETE RESTRICT,
	update_type INTEGER NOT NULL,
	valid_from TIMESTAMPTZ NOT NULL,
	valid_to TIMESTAMPTZ,
	data JSONB NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_tracked_model_identity ON tracked_model (kind, sid);
CREATE INDEX IF NOT EXISTS idx_tracked_model_transaction ON tracked_model (transaction_id);

CREATE TABLE IF NOT EXISTS check_result (
	workbasket_id UUID PRIMARY KEY REFERENCES workbasket(id) ON DELETE RESTRICT,
	state TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	checked_at TIMESTAMPTZ NOT NULL,
	outcomes JSONB NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS envelope (
	id UUID PRIMARY KEY,
	envelope_id TEXT NOT NULL,
	xml_file_key TEXT NOT NULL,
	published_to_api TIMESTAMPTZ,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_envelope_envelope_id ON envelope (envelope_id);

CREATE TABLE IF NOT EXISTS packaged_workbasket (
	id UUID PRIMARY KEY,
	workbasket_id UUID NOT NULL REFERENCES workbasket(id) ON DELETE RESTRICT,
	position INTEGER NOT NULL,
	state TEXT NOT NULL,
	envelope_id UUID REFERENCES envelope(id) ON DELETE RESTRICT,
	crown_envelope_id UUID,
	theme TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	eif TIMESTAMPTZ,
	embargo TEXT NOT NULL DEFAULT '',
	jira_url TEXT NOT NULL DEFAULT '',
	processing_started_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packaged_workbasket_state ON packaged_workbasket (state, position);

CREATE TABLE IF NOT EXISTS crown_dependencies_envelope (
	id UUID PRIMARY KEY,
	packaged_workbasket_id UUID NOT NULL REFERENCES packaged_workbasket(id) ON DELETE RESTRICT,
	state TEXT NOT NULL,
	published TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS operational_status (
	id BIGSERIAL PRIMARY KEY,
	queue TEXT NOT NULL,
	paused BOOLEAN NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_operational_status_queue ON operational_status (queue, id DESC);
`

// EnsureSchema applies the schema. Every statement is idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
