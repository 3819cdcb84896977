// internal/adapter/storage/source_store.go

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/pkg/errs"
)

// SourceStore manages configured watch sources. Sources are only ever
// soft-deactivated so recorded history stays attributable.
type SourceStore struct {
	db    *pgxpool.Pool
	retry RetryPolicy
}

// NewSourceStore creates a new source store.
func NewSourceStore(db *pgxpool.Pool, retry RetryPolicy) *SourceStore {
	return &SourceStore{db: db, retry: retry}
}

// EnsureSchema creates the watch source table.
func (s *SourceStore) EnsureSchema(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS watch_sources (
			id BIGSERIAL PRIMARY KEY,
			platform TEXT NOT NULL,
			source_ref TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			added_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (platform, source_ref)
		)
	`
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("error ensuring source schema: %w", err)
	}
	return nil
}

// Add registers a source to poll. Re-adding an existing source
// reactivates it.
func (s *SourceStore) Add(ctx context.Context, src snapshot.WatchSource) error {
	query := `
		INSERT INTO watch_sources (platform, source_ref, display_name, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (platform, source_ref) DO UPDATE
		SET active = TRUE, display_name = $3
	`

	if src.AddedAt.IsZero() {
		src.AddedAt = time.Now()
	}
	if src.DisplayName == "" {
		src.DisplayName = src.SourceRef
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.db.Exec(ctx, query, string(src.Platform), src.SourceRef, src.DisplayName, src.AddedAt)
		if err != nil {
			return &errs.WriteError{Op: "add source", Err: err}
		}
		return nil
	})
}

// Deactivate marks a source inactive without deleting it.
func (s *SourceStore) Deactivate(ctx context.Context, platform snapshot.Platform, sourceRef string) error {
	query := `UPDATE watch_sources SET active = FALSE WHERE platform = $1 AND source_ref = $2`

	return s.retry.Do(ctx, func() error {
		_, err := s.db.Exec(ctx, query, string(platform), sourceRef)
		if err != nil {
			return &errs.WriteError{Op: "deactivate source", Err: err}
		}
		return nil
	})
}

// Active lists the sources currently being polled.
func (s *SourceStore) Active(ctx context.Context) ([]snapshot.WatchSource, error) {
	query := `
		SELECT id, platform, source_ref, display_name, active, added_at
		FROM watch_sources
		WHERE active
		ORDER BY added_at
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying sources: %w", err)
	}
	defer rows.Close()

	var sources []snapshot.WatchSource
	for rows.Next() {
		var (
			src      snapshot.WatchSource
			platform string
		)
		if err := rows.Scan(&src.ID, &platform, &src.SourceRef, &src.DisplayName, &src.Active, &src.AddedAt); err != nil {
			return nil, fmt.Errorf("error scanning source: %w", err)
		}
		src.Platform = snapshot.Platform(platform)
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sources: %w", err)
	}
	return sources, nil
}
