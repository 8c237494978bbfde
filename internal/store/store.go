// Package store is the durable relational store — the Identity Store,
// Session Manager's session table, Group Engine, and Attachment Access
// Gate's records all persist here. Adapted from the teacher's
// internal/db/postgres.go idiom: plain database/sql, explicit SQL, no
// ORM, connection-pool tuning at construction, compare-and-set updates
// via WHERE-clause guards instead of application-level locks.
package store

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
}

func New(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// schema is applied by an external migration step in production; kept here
// as the single source of truth for the shape the queries below assume,
// matching the teacher's habit of colocating the expected schema with the
// package that owns it.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
	whisper_id        TEXT PRIMARY KEY,
	enc_public_key     BYTEA NOT NULL,
	sign_public_key    BYTEA NOT NULL,
	active_device_id   TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'active',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS device_bindings (
	whisper_id    TEXT PRIMARY KEY REFERENCES identities(whisper_id) ON DELETE CASCADE,
	device_id     TEXT NOT NULL,
	platform      TEXT NOT NULL,
	push_token    TEXT NOT NULL DEFAULT '',
	voip_token    TEXT NOT NULL DEFAULT '',
	registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	session_token TEXT PRIMARY KEY,
	whisper_id    TEXT NOT NULL REFERENCES identities(whisper_id) ON DELETE CASCADE,
	device_id     TEXT NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_whisper ON sessions(whisper_id);

CREATE TABLE IF NOT EXISTS envelopes (
	message_id   UUID PRIMARY KEY,
	from_id      TEXT NOT NULL,
	to_id        TEXT NOT NULL,
	msg_type     TEXT NOT NULL,
	timestamp    BIGINT NOT NULL,
	nonce        TEXT NOT NULL,
	ciphertext   TEXT NOT NULL,
	sig          TEXT NOT NULL,
	reply_to     UUID,
	object_key   TEXT,
	status       TEXT NOT NULL DEFAULT 'queued',
	delivered_at TIMESTAMPTZ,
	read_at      TIMESTAMPTZ,
	persisted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_envelopes_from_recent ON envelopes(from_id, persisted_at);

CREATE TABLE IF NOT EXISTS contact_hints (
	from_id TEXT NOT NULL,
	to_id   TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id)
);

CREATE TABLE IF NOT EXISTS backups (
	whisper_id TEXT PRIMARY KEY REFERENCES identities(whisper_id) ON DELETE CASCADE,
	nonce      TEXT NOT NULL,
	ciphertext TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS groups (
	group_id   UUID PRIMARY KEY,
	title      TEXT NOT NULL,
	creator    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id   UUID NOT NULL REFERENCES groups(group_id) ON DELETE CASCADE,
	whisper_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	removed_at TIMESTAMPTZ,
	PRIMARY KEY (group_id, whisper_id)
);

CREATE TABLE IF NOT EXISTS attachment_records (
	object_key      TEXT PRIMARY KEY,
	owner           TEXT NOT NULL,
	content_type    TEXT NOT NULL,
	ciphertext_size BIGINT NOT NULL,
	uploaded_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attachment_grants (
	object_key  TEXT NOT NULL REFERENCES attachment_records(object_key) ON DELETE CASCADE,
	grantee_id  TEXT NOT NULL,
	granted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (object_key, grantee_id)
);
`
