package store

import (
	"database/sql"
	"errors"
	"time"
)

// ConversationRecord is the persisted form of one customer's conversation
// state within a session.
type ConversationRecord struct {
	SessionID         string
	CustomerID        string
	LastInteractionAt time.Time
	MessageCount      int
	PurchaseCount     int
	WindowMessages    int
	Pending           string
}

// ConversationStore persists conversation state snapshots.
type ConversationStore struct {
	db *DB
}

// NewConversationStore creates a conversation store using the given database.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Save upserts a record.
func (s *ConversationStore) Save(rec ConversationRecord) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO conversation_states
		   (session_id, customer_id, last_at, message_count, purchase_count, window_messages, pending)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, customer_id) DO UPDATE SET
		   last_at = excluded.last_at,
		   message_count = excluded.message_count,
		   purchase_count = excluded.purchase_count,
		   window_messages = excluded.window_messages,
		   pending = excluded.pending`,
		rec.SessionID, rec.CustomerID, rec.LastInteractionAt.UTC().Format(time.RFC3339Nano),
		rec.MessageCount, rec.PurchaseCount, rec.WindowMessages, rec.Pending,
	)
	return err
}

// Load returns the record for (sessionID, customerID). The boolean is false
// when none is stored.
func (s *ConversationStore) Load(sessionID, customerID string) (ConversationRecord, bool, error) {
	rec := ConversationRecord{SessionID: sessionID, CustomerID: customerID}
	var last string
	err := s.db.sql.QueryRow(
		`SELECT last_at, message_count, purchase_count, window_messages, pending
		 FROM conversation_states WHERE session_id = ? AND customer_id = ?`,
		sessionID, customerID,
	).Scan(&last, &rec.MessageCount, &rec.PurchaseCount, &rec.WindowMessages, &rec.Pending)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	rec.LastInteractionAt, _ = time.Parse(time.RFC3339Nano, last)
	return rec, true, nil
}

// CountBySession returns how many customers have state in a session.
func (s *ConversationStore) CountBySession(sessionID string) (int, error) {
	var n int
	err := s.db.sql.QueryRow(
		`SELECT COUNT(*) FROM conversation_states WHERE session_id = ?`, sessionID,
	).Scan(&n)
	return n, err
}
