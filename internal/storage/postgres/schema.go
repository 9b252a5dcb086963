package postgres

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash BYTEA NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	members    TEXT[] NOT NULL,
	ai_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	pair_key   TEXT
);

ALTER TABLE conversations ADD COLUMN IF NOT EXISTS pair_key TEXT;

CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_key_idx ON conversations (pair_key);
CREATE INDEX IF NOT EXISTS conversations_members_idx ON conversations USING GIN (members);
CREATE INDEX IF NOT EXISTS conversations_updated_at_idx ON conversations (updated_at DESC);

CREATE TABLE IF NOT EXISTS invites (
	id              TEXT PRIMARY KEY,
	code            TEXT NOT NULL,
	created_by      TEXT NOT NULL REFERENCES users (id),
	accepted_by     TEXT REFERENCES users (id),
	conversation_id TEXT REFERENCES conversations (id),
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	accepted_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS invites_code_created_at_idx ON invites (code, created_at DESC);

CREATE TABLE IF NOT EXISTS invite_codes (
	code       TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id),
	sender_id       TEXT NOT NULL,
	text            TEXT NOT NULL,
	type            TEXT NOT NULL DEFAULT 'text',
	hidden_from_ai  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS messages_conversation_created_at_idx ON messages (conversation_id, created_at);
`
