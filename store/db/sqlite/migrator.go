package sqlite

import (
	"context"

	"github.com/pkg/errors"
)

// schema is applied idempotently at every startup. All statements use
// IF NOT EXISTS so re-running is safe.
const schema = `
CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL DEFAULT 0,
	user_id INTEGER NOT NULL DEFAULT 0,
	role TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	media_json TEXT NOT NULL DEFAULT '',
	embedding_json TEXT,
	ts INTEGER NOT NULL,
	tg_message_id INTEGER NOT NULL DEFAULT 0,
	addressed INTEGER NOT NULL DEFAULT 0,
	reply_to_message_id INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_message_chat_ts ON message (chat_id, thread_id, ts);
CREATE INDEX IF NOT EXISTS idx_message_tg ON message (chat_id, tg_message_id);

CREATE VIRTUAL TABLE IF NOT EXISTS message_fts USING fts5 (
	text,
	content='message',
	content_rowid='id'
);

CREATE TABLE IF NOT EXISTS user_profile (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	interaction_count INTEGER NOT NULL DEFAULT 0,
	last_seen_ts INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	summary_updated_ts INTEGER NOT NULL DEFAULT 0,
	profile_version INTEGER NOT NULL DEFAULT 1,
	membership_status TEXT NOT NULL DEFAULT 'member',
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL,
	UNIQUE (user_id, chat_id)
);

CREATE TABLE IF NOT EXISTS fact (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_type TEXT NOT NULL,
	entity_id INTEGER NOT NULL,
	category TEXT NOT NULL,
	fact_key TEXT NOT NULL,
	fact_value TEXT NOT NULL,
	confidence REAL NOT NULL,
	evidence_count INTEGER NOT NULL DEFAULT 1,
	source_type TEXT NOT NULL DEFAULT '',
	context_tags TEXT NOT NULL DEFAULT '[]',
	embedding_json TEXT,
	decay_rate REAL NOT NULL DEFAULT 0,
	last_reinforced INTEGER NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fact_entity ON fact (entity_type, entity_id, category);

CREATE TABLE IF NOT EXISTS episode (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL DEFAULT 0,
	topic TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	summary_embedding_json TEXT,
	importance REAL NOT NULL DEFAULT 0,
	valence TEXT NOT NULL DEFAULT 'neutral',
	message_ids TEXT NOT NULL DEFAULT '[]',
	participant_ids TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	created_ts INTEGER NOT NULL,
	last_accessed_ts INTEGER NOT NULL DEFAULT 0,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_episode_chat ON episode (chat_id, importance);

CREATE TABLE IF NOT EXISTS episode_access (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	episode_id INTEGER NOT NULL,
	accessed_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS system_prompt (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scope TEXT NOT NULL,
	chat_id INTEGER NOT NULL DEFAULT 0,
	user_id INTEGER NOT NULL DEFAULT 0,
	version INTEGER NOT NULL,
	prompt_text TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	created_by INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL,
	UNIQUE (scope, chat_id, version)
);

CREATE TABLE IF NOT EXISTS rate_limit (
	user_id INTEGER NOT NULL,
	feature TEXT NOT NULL,
	window_start INTEGER NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, feature, window_start)
);

CREATE TABLE IF NOT EXISTS feature_cooldown (
	user_id INTEGER NOT NULL,
	feature TEXT NOT NULL,
	last_used INTEGER NOT NULL,
	PRIMARY KEY (user_id, feature)
);

CREATE TABLE IF NOT EXISTS image_quota (
	user_id INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	quota_date TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, chat_id, quota_date)
);

CREATE TABLE IF NOT EXISTS interaction_outcome (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_profile_id INTEGER NOT NULL DEFAULT 0,
	chat_id INTEGER NOT NULL,
	thread_id INTEGER NOT NULL DEFAULT 0,
	message_id INTEGER NOT NULL,
	interaction_type TEXT NOT NULL,
	outcome TEXT NOT NULL,
	sentiment_score REAL NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	token_count INTEGER NOT NULL DEFAULT 0,
	tools_used TEXT NOT NULL DEFAULT '[]',
	user_reaction TEXT NOT NULL DEFAULT '',
	reaction_delay_s INTEGER NOT NULL DEFAULT 0,
	context_snapshot TEXT NOT NULL DEFAULT '',
	episode_id INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcome_chat_ts ON interaction_outcome (chat_id, created_ts);

CREATE TABLE IF NOT EXISTS insight (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	insight_type TEXT NOT NULL,
	insight_text TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	actionable INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ban (
	chat_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	banned_by INTEGER NOT NULL DEFAULT 0,
	created_ts INTEGER NOT NULL,
	PRIMARY KEY (chat_id, user_id)
);
`

// Migrate applies the schema. It is idempotent; a startup failure here is
// fatal for the process.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}
