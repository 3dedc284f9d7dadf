package store

import (
	"time"
)

// SessionRecord remembers which sessions existed so they can be restarted.
type SessionRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionStore persists session records.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Put records a session, replacing the tenant binding if it already exists.
func (s *SessionStore) Put(rec SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO sessions (id, tenant_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id`,
		rec.ID, rec.TenantID, rec.CreatedAt.UTC().Format(time.DateTime),
	)
	return err
}

// List returns all session records, oldest first.
func (s *SessionStore) List() ([]SessionRecord, error) {
	rows, err := s.db.sql.Query(`SELECT id, tenant_id, created_at FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a session record together with its conversation states.
func (s *SessionStore) Delete(id string) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversation_states WHERE session_id = ?`, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
