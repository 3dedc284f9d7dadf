// Package channel manages the operator-facing notifiers escalations are
// mirrored to, such as an IRC channel or a Telegram chat.
package channel

import (
	"context"
	"slices"
	"sync"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// Notifier posts plain-text alerts to operators.
type Notifier interface {
	ID() string
	// Start connects and blocks until ctx ends or the connection fails.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Notify(ctx context.Context, text string) error
}

// Status is the runtime state of a notifier.
type Status struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Registry manages a set of notifiers.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	log       *logging.Logger
}

// NewRegistry creates a notifier registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
		log:       log.Sub("channels"),
	}
}

// Register adds a notifier to the registry.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.ID()] = n
	r.log.Info().Str("channel", n.ID()).Msg("notifier registered")
}

// Get returns a notifier by ID.
func (r *Registry) Get(id string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notifiers[id]
	return n, ok
}

// List returns all notifier IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.notifiers))
	for id := range r.notifiers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Status returns the status of all registered notifiers.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]Status, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		if sn, ok := n.(interface{ Status() Status }); ok {
			statuses = append(statuses, sn.Status())
		} else {
			statuses = append(statuses, Status{ID: n.ID(), Running: true})
		}
	}
	slices.SortFunc(statuses, func(a, b Status) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return statuses
}

// StartAll starts all registered notifiers in background goroutines.
// Start may block (IRC's Connect does), so each runs on its own.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, n := range r.notifiers {
		r.log.Info().Str("channel", id).Msg("starting notifier")
		go func(id string, n Notifier) {
			if err := n.Start(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Str("channel", id).Msg("notifier exited with error")
			}
		}(id, n)
	}
}

// StopAll stops all registered notifiers.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, n := range r.notifiers {
		r.log.Info().Str("channel", id).Msg("stopping notifier")
		if err := n.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop notifier")
		}
	}
}

// Broadcast sends text to every notifier. Failures are logged and skipped.
// It returns the number of notifiers that accepted the text.
func (r *Registry) Broadcast(ctx context.Context, text string) int {
	r.mu.RLock()
	targets := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		targets = append(targets, n)
	}
	r.mu.RUnlock()

	ok := 0
	for _, n := range targets {
		if err := n.Notify(ctx, text); err != nil {
			r.log.Warn().Err(err).Str("channel", n.ID()).Msg("notify failed")
			continue
		}
		ok++
	}
	return ok
}

// Count returns the number of registered notifiers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}
