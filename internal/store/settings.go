package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/autoguard/backend/internal/core"
)

// GetSettings reads the raw key/value rows. Missing keys fall back to the
// defaults in core.ParseSettings, so an empty table is a valid state.
func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, mapError(err, "read settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, mapError(err, "scan setting")
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SetSetting upserts one key. Values are stored as strings and parsed by
// core.ParseSettings on read.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return core.Validationf("setting key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return mapError(err, fmt.Sprintf("set setting %s", key))
	}
	return nil
}

// LoadSettings reads and parses the settings table into a typed snapshot.
func (s *Store) LoadSettings(ctx context.Context) (core.Settings, error) {
	raw, err := s.GetSettings(ctx)
	if err != nil {
		return core.DefaultSettings(), err
	}
	return core.ParseSettings(raw), nil
}
