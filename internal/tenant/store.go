// Package tenant holds the live per-tenant business configuration.
package tenant

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// Persister is the durable backing of the store.
type Persister interface {
	Save(cfg domain.BusinessConfig) error
	List() ([]domain.BusinessConfig, error)
}

// Store is a copy-on-write map of tenant configurations. Readers get a
// private snapshot; writers build a new value and swap it in, so a
// resolution in flight never observes a half-applied change.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]domain.BusinessConfig
	persist Persister
	log     *logging.Logger
	now     func() time.Time
}

// NewStore creates a store. persist may be nil for a memory-only store.
func NewStore(persist Persister, log *logging.Logger) *Store {
	return &Store{
		tenants: make(map[string]domain.BusinessConfig),
		persist: persist,
		log:     log.Sub("tenant"),
		now:     time.Now,
	}
}

// Restore loads every persisted tenant into memory.
func (s *Store) Restore() error {
	if s.persist == nil {
		return nil
	}
	list, err := s.persist.List()
	if err != nil {
		return fmt.Errorf("restoring tenants: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range list {
		ApplyDefaults(&cfg)
		s.tenants[cfg.TenantID] = cfg
	}
	s.log.Info().Int("count", len(list)).Msg("tenants restored")
	return nil
}

// Seed installs configurations from a config file. A tenant already known
// (for example restored from the database after admin edits) is left alone
// unless overwrite is set.
func (s *Store) Seed(cfgs []domain.BusinessConfig, overwrite bool) error {
	for _, cfg := range cfgs {
		if !overwrite && s.Has(cfg.TenantID) {
			s.log.Debug().Str("tenant", cfg.TenantID).Msg("seed skipped, tenant already stored")
			continue
		}
		if err := s.Put(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether a tenant is known.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[id]
	return ok
}

// Get returns a snapshot of the tenant's configuration.
func (s *Store) Get(id string) (domain.BusinessConfig, error) {
	s.mu.RLock()
	cfg, ok := s.tenants[id]
	s.mu.RUnlock()
	if !ok {
		return domain.BusinessConfig{}, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return cfg.Clone(), nil
}

// Put validates and installs a full configuration.
func (s *Store) Put(cfg domain.BusinessConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.install(cfg.Clone())
}

// Update applies fn to a copy of the tenant's configuration and installs the
// result. If fn or validation fails the stored configuration is unchanged.
func (s *Store) Update(id string, fn func(*domain.BusinessConfig) error) (domain.BusinessConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tenants[id]
	if !ok {
		return domain.BusinessConfig{}, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return domain.BusinessConfig{}, err
	}
	next.TenantID = id
	if err := s.install(next); err != nil {
		return domain.BusinessConfig{}, err
	}
	return s.tenants[id].Clone(), nil
}

// install must be called with mu held.
func (s *Store) install(cfg domain.BusinessConfig) error {
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = s.now()
	if s.persist != nil {
		if err := s.persist.Save(cfg); err != nil {
			return fmt.Errorf("persisting tenant %s: %w", cfg.TenantID, err)
		}
	}
	s.tenants[cfg.TenantID] = cfg
	s.log.Info().Str("tenant", cfg.TenantID).Msg("tenant config installed")
	return nil
}

// List returns snapshots of all tenants ordered by id.
func (s *Store) List() []domain.BusinessConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BusinessConfig, 0, len(s.tenants))
	for _, cfg := range s.tenants {
		out = append(out, cfg.Clone())
	}
	slices.SortFunc(out, func(a, b domain.BusinessConfig) int {
		if a.TenantID < b.TenantID {
			return -1
		}
		if a.TenantID > b.TenantID {
			return 1
		}
		return 0
	})
	return out
}
