package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// EscalationEntry is one forwarded escalation.
type EscalationEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	TenantID   string    `json:"tenantId"`
	CustomerID string    `json:"customerId"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
	Rank       float64   `json:"rank,omitempty"` // FTS5 rank score (search results only)
}

// EscalationLog records escalations with full-text search via SQLite FTS5.
type EscalationLog struct {
	db *DB
}

// NewEscalationLog creates an escalation log using the given database.
func NewEscalationLog(db *DB) *EscalationLog {
	return &EscalationLog{db: db}
}

// Record appends an entry, assigning an id and timestamp when missing.
func (l *EscalationLog) Record(e EscalationEntry) (*EscalationEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.sql.Exec(
		`INSERT INTO escalations (id, session_id, tenant_id, customer_id, reason, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.TenantID, e.CustomerID, e.Reason, e.Message,
		e.CreatedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Recent returns the newest entries for a tenant. Limit of 0 defaults to 20.
func (l *EscalationLog) Recent(tenantID string, limit int) ([]EscalationEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.sql.Query(
		`SELECT id, session_id, tenant_id, customer_id, reason, message, created_at, 0
		 FROM escalations WHERE tenant_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEscalations(rows)
}

// Search finds entries of a tenant matching an FTS5 query, best first.
func (l *EscalationLog) Search(tenantID, query string, limit int) ([]EscalationEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.sql.Query(
		`SELECT e.id, e.session_id, e.tenant_id, e.customer_id, e.reason, e.message, e.created_at, rank
		 FROM escalations_fts
		 JOIN escalations e ON e.rowid = escalations_fts.rowid
		 WHERE escalations_fts MATCH ?
		   AND e.tenant_id = ?
		 ORDER BY rank
		 LIMIT ?`,
		query, tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEscalations(rows)
}

func scanEscalations(rows *sql.Rows) ([]EscalationEntry, error) {
	var out []EscalationEntry
	for rows.Next() {
		var e EscalationEntry
		var createdAt string
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.TenantID, &e.CustomerID,
			&e.Reason, &e.Message, &createdAt, &e.Rank,
		); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
