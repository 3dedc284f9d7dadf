package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create tenants and sessions",
		SQL: `
			CREATE TABLE tenants (
				id          TEXT PRIMARY KEY,
				config      TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				tenant_id   TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sessions_tenant ON sessions (tenant_id);
		`,
	},
	{
		Version: 2,
		Name:    "create conversation states",
		SQL: `
			CREATE TABLE conversation_states (
				session_id      TEXT NOT NULL,
				customer_id     TEXT NOT NULL,
				last_at         TEXT NOT NULL,
				message_count   INTEGER NOT NULL DEFAULT 0,
				purchase_count  INTEGER NOT NULL DEFAULT 0,
				window_messages INTEGER NOT NULL DEFAULT 0,
				pending         TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (session_id, customer_id)
			);
		`,
	},
	{
		Version: 3,
		Name:    "create escalation log with FTS5",
		SQL: `
			CREATE TABLE escalations (
				id          TEXT PRIMARY KEY,
				session_id  TEXT NOT NULL,
				tenant_id   TEXT NOT NULL,
				customer_id TEXT NOT NULL,
				reason      TEXT NOT NULL,
				message     TEXT NOT NULL,
				created_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_escalations_tenant ON escalations (tenant_id, created_at);

			CREATE VIRTUAL TABLE escalations_fts USING fts5(
				message,
				reason,
				content='escalations',
				content_rowid='rowid'
			);

			CREATE TRIGGER escalations_ai AFTER INSERT ON escalations BEGIN
				INSERT INTO escalations_fts(rowid, message, reason)
				VALUES (new.rowid, new.message, new.reason);
			END;

			CREATE TRIGGER escalations_ad AFTER DELETE ON escalations BEGIN
				INSERT INTO escalations_fts(escalations_fts, rowid, message, reason)
				VALUES ('delete', old.rowid, old.message, old.reason);
			END;
		`,
	},
}
