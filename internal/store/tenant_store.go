package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/domain"
)

// TenantStore persists tenant configuration documents as JSON rows.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a tenant store using the given database.
func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db}
}

// Save inserts or replaces a tenant configuration.
func (s *TenantStore) Save(cfg domain.BusinessConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding tenant %s: %w", cfg.TenantID, err)
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.sql.Exec(
		`INSERT INTO tenants (id, config, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		cfg.TenantID, string(data), updated.UTC().Format(time.DateTime),
	)
	return err
}

// Load returns the stored configuration for a tenant.
func (s *TenantStore) Load(id string) (domain.BusinessConfig, error) {
	var raw string
	err := s.db.sql.QueryRow(`SELECT config FROM tenants WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.BusinessConfig{}, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.BusinessConfig{}, err
	}
	var cfg domain.BusinessConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.BusinessConfig{}, fmt.Errorf("decoding tenant %s: %w", id, err)
	}
	return cfg, nil
}

// List returns every stored tenant ordered by id. Rows that fail to decode
// are logged and skipped.
func (s *TenantStore) List() ([]domain.BusinessConfig, error) {
	rows, err := s.db.sql.Query(`SELECT id, config FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BusinessConfig
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var cfg domain.BusinessConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			s.db.log.Warn().Err(err).Str("tenant", id).Msg("skipping undecodable tenant")
			continue
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// Delete removes a tenant.
func (s *TenantStore) Delete(id string) error {
	_, err := s.db.sql.Exec(`DELETE FROM tenants WHERE id = ?`, id)
	return err
}
