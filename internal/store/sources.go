package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/autoguard/backend/internal/core"
)

const sourceColumns = `id, name, source_type, url, update_frequency, last_sync_at, next_sync_at,
	sync_status, sync_error, is_active, created_at`

func scanSource(row scanner) (*core.BlacklistSource, error) {
	var (
		src                  core.BlacklistSource
		url, status, syncErr sql.NullString
		lastSync, nextSync   sql.NullTime
	)
	err := row.Scan(&src.ID, &src.Name, &src.SourceType, &url, &src.UpdateFrequency,
		&lastSync, &nextSync, &status, &syncErr, &src.IsActive, &src.CreatedAt)
	if err != nil {
		return nil, err
	}
	src.URL = fromNullString(url)
	src.SyncStatus = fromNullString(status)
	src.SyncError = fromNullString(syncErr)
	src.LastSyncAt = fromNullTime(lastSync)
	src.NextSyncAt = fromNullTime(nextSync)
	return &src, nil
}

// CreateSource registers an external blacklist feed. New sources are due
// immediately (nextSyncAt stays NULL until the first sync finishes).
func (s *Store) CreateSource(ctx context.Context, src *core.BlacklistSource) (*core.BlacklistSource, error) {
	if strings.TrimSpace(src.Name) == "" {
		return nil, core.Validationf("source name is required")
	}
	switch src.UpdateFrequency {
	case "daily", "weekly", "monthly":
	case "":
		src.UpdateFrequency = "daily"
	default:
		return nil, core.Validationf("invalid update frequency %q", src.UpdateFrequency)
	}
	if src.SourceType == "" {
		src.SourceType = "external"
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO blacklist_sources (name, source_type, url, update_frequency, is_active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING `+sourceColumns,
		src.Name, src.SourceType, nullString(src.URL), src.UpdateFrequency)
	created, err := scanSource(row)
	if err != nil {
		return nil, mapError(err, "create source")
	}
	return created, nil
}

// GetSource fetches one feed by id.
func (s *Store) GetSource(ctx context.Context, id int64) (*core.BlacklistSource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM blacklist_sources WHERE id = $1`, id)
	src, err := scanSource(row)
	if err != nil {
		return nil, mapError(err, fmt.Sprintf("source %d", id))
	}
	return src, nil
}

// ListSources returns every registered feed.
func (s *Store) ListSources(ctx context.Context) ([]*core.BlacklistSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM blacklist_sources ORDER BY id`)
	if err != nil {
		return nil, mapError(err, "list sources")
	}
	defer rows.Close()

	var out []*core.BlacklistSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, mapError(err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// ListDueSources returns active feeds with a URL whose next sync time has
// passed (or was never set). Feeds already marked syncing are skipped so a
// slow sync is not enqueued twice.
func (s *Store) ListDueSources(ctx context.Context) ([]*core.BlacklistSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sourceColumns+` FROM blacklist_sources
		WHERE is_active
			AND url IS NOT NULL AND url <> ''
			AND (next_sync_at IS NULL OR next_sync_at <= now())
			AND (sync_status IS NULL OR sync_status <> 'syncing')
		ORDER BY id`)
	if err != nil {
		return nil, mapError(err, "list due sources")
	}
	defer rows.Close()

	var out []*core.BlacklistSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, mapError(err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// MarkSourceSyncing records that a sync job was enqueued for the feed.
func (s *Store) MarkSourceSyncing(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blacklist_sources SET sync_status = 'syncing', sync_error = NULL WHERE id = $1`, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("mark source %d syncing", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("source %d", id)
	}
	return nil
}

// FinishSourceSync records the outcome of a sync run and schedules the next
// one from the feed's update frequency.
func (s *Store) FinishSourceSync(ctx context.Context, id int64, syncErr string) error {
	status := "success"
	if syncErr != "" {
		status = "failed"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE blacklist_sources
		SET sync_status = $2, sync_error = $3, last_sync_at = now(),
			next_sync_at = now() + CASE update_frequency
				WHEN 'weekly'  THEN interval '7 days'
				WHEN 'monthly' THEN interval '30 days'
				ELSE interval '24 hours'
			END
		WHERE id = $1`,
		id, status, nullString(syncErr))
	if err != nil {
		return mapError(err, fmt.Sprintf("finish source %d sync", id))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFoundf("source %d", id)
	}
	return nil
}
