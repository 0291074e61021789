package sqlite

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Timestamps are stored
// as UTC unix nanoseconds so range filters compare numerically.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL DEFAULT '',
	email  TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'ACTIVE'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS tickets (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	slug           TEXT NOT NULL UNIQUE,
	status         TEXT NOT NULL CHECK (status IN ('open','process','feedback','done','expired')),
	priority       TEXT NOT NULL CHECK (priority IN ('low','medium','high')),
	category_id    TEXT NOT NULL,
	function_id    TEXT NOT NULL,
	orderer_id     TEXT NOT NULL,
	orderer_email  TEXT NOT NULL DEFAULT '',
	updater_id     TEXT,
	subject        TEXT NOT NULL,
	attachment_ref TEXT,
	source_key     TEXT UNIQUE,
	expired_at     INTEGER NOT NULL,
	finish_at      INTEGER,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	CHECK (expired_at > created_at),
	CHECK ((finish_at IS NOT NULL) = (status = 'done'))
);

CREATE INDEX IF NOT EXISTS idx_tickets_due ON tickets(status, expired_at);

CREATE TABLE IF NOT EXISTS ticket_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	author_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	quote      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_messages_ticket ON ticket_messages(ticket_id, id);

CREATE TABLE IF NOT EXISTS ticket_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id   INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	change_type TEXT NOT NULL CHECK (change_type IN ('created','status','assignment')),
	from_status TEXT,
	to_status   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	assignee_id TEXT,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_history_ticket ON ticket_history(ticket_id, id);

CREATE TABLE IF NOT EXISTS ticket_assignments (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id      INTEGER NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
	assignee_id    TEXT NOT NULL,
	assigned_by_id TEXT NOT NULL,
	assigned_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ticket_assignments_ticket ON ticket_assignments(ticket_id, id);

CREATE TABLE IF NOT EXISTS ticket_feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_id  INTEGER NOT NULL UNIQUE REFERENCES tickets(id) ON DELETE CASCADE,
	author_id  TEXT NOT NULL,
	rating     INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
