// Package conversation tracks per-customer conversation state within a
// session.
package conversation

import (
	"sync"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/store"
)

// State is one customer's conversation state. Values returned by the
// tracker are copies.
type State struct {
	LastInteractionAt time.Time
	MessageCount      int
	PurchaseCount     int
	// WindowMessages counts messages since the last inactivity gap.
	WindowMessages int
	// Pending marks a multi-step flow the customer is in, if any.
	Pending string
}

// Key identifies a conversation.
type Key struct {
	SessionID  string
	CustomerID string
}

// Persister is the optional durable backing of the tracker.
type Persister interface {
	Save(rec store.ConversationRecord) error
	Load(sessionID, customerID string) (store.ConversationRecord, bool, error)
}

// Touch result.
type Touch struct {
	State
	// FirstInWindow is set when this message opened a new inactivity window
	// (first message ever, or gap longer than the window).
	FirstInWindow bool
}

// Tracker holds conversation state in memory, optionally writing through
// to a persister. Updates for one key are serialized by that key's lock;
// the tracker-wide lock only guards the index.
type Tracker struct {
	mu      sync.Mutex
	states  map[Key]*entry
	persist Persister
	log     *logging.Logger
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	st     State
}

// NewTracker creates a tracker. persist may be nil.
func NewTracker(persist Persister, log *logging.Logger) *Tracker {
	return &Tracker{
		states:  make(map[Key]*entry),
		persist: persist,
		log:     log.Sub("conversation"),
	}
}

// lock returns the entry for k with its lock held, loading persisted state
// on first use.
func (t *Tracker) lock(k Key) *entry {
	t.mu.Lock()
	e, ok := t.states[k]
	if !ok {
		e = &entry{}
		t.states[k] = e
	}
	t.mu.Unlock()

	e.mu.Lock()
	if !e.loaded {
		e.loaded = true
		if t.persist != nil {
			rec, ok, err := t.persist.Load(k.SessionID, k.CustomerID)
			if err != nil {
				t.log.Warn().Err(err).Str("session", k.SessionID).Msg("loading conversation state failed")
			} else if ok {
				e.st = State{
					LastInteractionAt: rec.LastInteractionAt,
					MessageCount:      rec.MessageCount,
					PurchaseCount:     rec.PurchaseCount,
					WindowMessages:    rec.WindowMessages,
					Pending:           rec.Pending,
				}
			}
		}
	}
	return e
}

// save must be called with the entry's lock held.
func (t *Tracker) save(k Key, st State) {
	if t.persist == nil {
		return
	}
	err := t.persist.Save(store.ConversationRecord{
		SessionID:         k.SessionID,
		CustomerID:        k.CustomerID,
		LastInteractionAt: st.LastInteractionAt,
		MessageCount:      st.MessageCount,
		PurchaseCount:     st.PurchaseCount,
		WindowMessages:    st.WindowMessages,
		Pending:           st.Pending,
	})
	if err != nil {
		t.log.Warn().Err(err).Str("session", k.SessionID).Msg("saving conversation state failed")
	}
}

// Touch records an inbound message at now. It must be called exactly once
// per inbound message. A gap strictly greater than window starts a new
// window.
func (t *Tracker) Touch(k Key, now time.Time, window time.Duration) Touch {
	e := t.lock(k)
	defer e.mu.Unlock()

	st := &e.st
	first := st.MessageCount == 0 || now.Sub(st.LastInteractionAt) > window
	if first {
		st.WindowMessages = 0
	}
	st.WindowMessages++
	st.MessageCount++
	if now.After(st.LastInteractionAt) {
		st.LastInteractionAt = now
	}
	t.save(k, *st)
	return Touch{State: *st, FirstInWindow: first}
}

// RecordPurchase increments the purchase count and returns the count as it
// was before the increment.
func (t *Tracker) RecordPurchase(k Key) int {
	e := t.lock(k)
	defer e.mu.Unlock()

	prev := e.st.PurchaseCount
	e.st.PurchaseCount++
	t.save(k, e.st)
	return prev
}

// SetPending sets or clears the pending flow marker.
func (t *Tracker) SetPending(k Key, pending string) {
	e := t.lock(k)
	defer e.mu.Unlock()

	e.st.Pending = pending
	t.save(k, e.st)
}

// Get returns a copy of the state for k.
func (t *Tracker) Get(k Key) (State, bool) {
	t.mu.Lock()
	e, ok := t.states[k]
	t.mu.Unlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return State{}, false
	}
	return e.st, true
}

// Forget drops the in-memory state of every customer of a session.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.states {
		if k.SessionID == sessionID {
			delete(t.states, k)
		}
	}
}

// Count returns the number of tracked conversations in a session.
func (t *Tracker) Count(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.states {
		if k.SessionID == sessionID {
			n++
		}
	}
	return n
}
