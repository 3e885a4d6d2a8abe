package store

// schemaVersion is the marker persisted in the schema_version table,
// advanced here to the final column set the original migration chain
// (v1 through v10 under original_source/backend/app/db/migrations) arrived
// at: key_states -> keys, auth_keys -> principals, and request_logs with
// token counts (v7), error_type (v8), key_brief (v9), and its time/key
// indexes (v10) folded directly into the initial create rather than
// replayed as a migration chain — the core contract only needs the marker
// to be at the expected version at startup (spec §6).
const schemaVersion = 10

// sqliteSchema creates the full schema in one pass; modernc.org/sqlite
// speaks standard SQLite DDL.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS keys (
	identifier TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	brief TEXT NOT NULL,
	state TEXT NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	cooldown_entry_count INTEGER NOT NULL DEFAULT 0,
	current_cooldown_seconds REAL NOT NULL DEFAULT 0,
	cooldown_until REAL,
	in_use_since REAL
);

CREATE TABLE IF NOT EXISTS principals (
	api_key TEXT PRIMARY KEY,
	alias TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS request_logs (
	request_id TEXT PRIMARY KEY,
	request_time REAL NOT NULL,
	principal_alias TEXT NOT NULL,
	key_identifier TEXT NOT NULL,
	key_brief TEXT NOT NULL,
	model_name TEXT NOT NULL,
	dialect TEXT NOT NULL,
	streamed INTEGER NOT NULL DEFAULT 0,
	is_success INTEGER NOT NULL,
	error_type TEXT,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	total_tokens INTEGER,
	latency_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_request_logs_request_time ON request_logs (request_time);
CREATE INDEX IF NOT EXISTS idx_request_logs_key_identifier ON request_logs (key_identifier);
CREATE INDEX IF NOT EXISTS idx_request_logs_principal_alias ON request_logs (principal_alias);
`

// postgresSchema mirrors sqliteSchema with Postgres-native types.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS keys (
	identifier TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	brief TEXT NOT NULL,
	state TEXT NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 0,
	cooldown_entry_count INTEGER NOT NULL DEFAULT 0,
	current_cooldown_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	cooldown_until DOUBLE PRECISION,
	in_use_since DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS principals (
	api_key TEXT PRIMARY KEY,
	alias TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS request_logs (
	request_id TEXT PRIMARY KEY,
	request_time DOUBLE PRECISION NOT NULL,
	principal_alias TEXT NOT NULL,
	key_identifier TEXT NOT NULL,
	key_brief TEXT NOT NULL,
	model_name TEXT NOT NULL,
	dialect TEXT NOT NULL,
	streamed BOOLEAN NOT NULL DEFAULT FALSE,
	is_success BOOLEAN NOT NULL,
	error_type TEXT,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	total_tokens INTEGER,
	latency_ms BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_request_logs_request_time ON request_logs (request_time);
CREATE INDEX IF NOT EXISTS idx_request_logs_key_identifier ON request_logs (key_identifier);
CREATE INDEX IF NOT EXISTS idx_request_logs_principal_alias ON request_logs (principal_alias);
`
