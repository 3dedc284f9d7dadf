package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

const consoleWriteWait = 10 * time.Second

var errConsoleClosed = errors.New("console connection closed")

// console is an attached operator connection on /ws.
type console struct {
	connID     string
	name       string
	mode       string
	tenants    map[string]struct{}
	conn       *websocket.Conn
	attachedAt time.Time

	mu     sync.Mutex
	closed bool
}

func newConsole(conn *websocket.Conn, a Attach, mode string) *console {
	c := &console{
		connID:     uuid.New().String(),
		name:       a.Console,
		mode:       mode,
		conn:       conn,
		attachedAt: time.Now(),
	}
	if len(a.Tenants) > 0 {
		c.tenants = make(map[string]struct{}, len(a.Tenants))
		for _, t := range a.Tenants {
			c.tenants[t] = struct{}{}
		}
	}
	return c
}

// watches reports whether a push belongs to one of the console's tenants.
// Payloads without a tenant go to everyone.
func (c *console) watches(payload any) bool {
	if c.tenants == nil {
		return true
	}
	m, ok := payload.(map[string]any)
	if !ok {
		return true
	}
	tenant, _ := m["tenant"].(string)
	if tenant == "" {
		return true
	}
	_, ok = c.tenants[tenant]
	return ok
}

// send writes one frame. Safe for concurrent use.
func (c *console) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConsoleClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(consoleWriteWait))
	return c.conn.WriteJSON(f)
}

func (c *console) reply(id string, result any) error {
	f, err := newReply(id, result)
	if err != nil {
		return err
	}
	return c.send(f)
}

func (c *console) fault(id, code, message string) error {
	return c.send(newFault(id, code, message))
}

func (c *console) push(topic string, payload any, seq int64) error {
	f, err := newPush(topic, payload, seq)
	if err != nil {
		return err
	}
	return c.send(f)
}

func (c *console) read() (Frame, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *console) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// consoles tracks the attached consoles.
type consoles struct {
	mu   sync.RWMutex
	byID map[string]*console
	log  *logging.Logger
}

func newConsoles(log *logging.Logger) *consoles {
	return &consoles{byID: make(map[string]*console), log: log}
}

func (r *consoles) add(c *console) {
	r.mu.Lock()
	r.byID[c.connID] = c
	r.mu.Unlock()
	r.log.Info().Str("connId", c.connID).Str("console", c.name).Int("tenants", len(c.tenants)).Msg("console attached")
}

func (r *consoles) remove(connID string) {
	r.mu.Lock()
	delete(r.byID, connID)
	r.mu.Unlock()
	r.log.Info().Str("connId", connID).Msg("console detached")
}

func (r *consoles) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// fanOut pushes to every console watching the payload's tenant and
// returns how many were written. A failed console is skipped.
func (r *consoles) fanOut(topic string, payload any, seq int64) int {
	r.mu.RLock()
	targets := make([]*console, 0, len(r.byID))
	for _, c := range r.byID {
		if c.watches(payload) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.push(topic, payload, seq); err != nil {
			r.log.Debug().Err(err).Str("connId", c.connID).Str("topic", topic).Msg("push failed")
			continue
		}
		sent++
	}
	return sent
}

func (r *consoles) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.byID {
		_ = c.close()
		delete(r.byID, id)
	}
}
