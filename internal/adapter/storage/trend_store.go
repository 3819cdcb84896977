// internal/adapter/storage/trend_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"trendspy/internal/domain/trend"
	"trendspy/internal/pkg/errs"
)

// TrendStore implements append-only storage for detected trends.
// Trends are immutable once written; re-detection inserts a new row so
// the historical trend timeline survives.
type TrendStore struct {
	db    *pgxpool.Pool
	retry RetryPolicy
}

// NewTrendStore creates a new trend store.
func NewTrendStore(db *pgxpool.Pool, retry RetryPolicy) *TrendStore {
	return &TrendStore{db: db, retry: retry}
}

// EnsureSchema creates the trend table.
func (s *TrendStore) EnsureSchema(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS detected_trends (
			id TEXT PRIMARY KEY,
			detected_at TIMESTAMPTZ NOT NULL,
			trend_type TEXT NOT NULL,
			trend_key TEXT NOT NULL,
			member_content_ids JSONB NOT NULL DEFAULT '[]',
			member_count INTEGER NOT NULL DEFAULT 0,
			avg_velocity DOUBLE PRECISION NOT NULL DEFAULT 0,
			score DOUBLE PRECISION NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT ''
		)
	`
	if _, err := s.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("error ensuring trend schema: %w", err)
	}
	return nil
}

// RecordTrend appends one detected trend.
func (s *TrendStore) RecordTrend(ctx context.Context, t trend.DetectedTrend) error {
	query := `
		INSERT INTO detected_trends (
			id, detected_at, trend_type, trend_key,
			member_content_ids, member_count, avg_velocity, score, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if t.DetectedAt.IsZero() {
		t.DetectedAt = time.Now()
	}

	membersJSON, err := json.Marshal(t.MemberContentIDs)
	if err != nil {
		return fmt.Errorf("error marshaling trend members: %w", err)
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.db.Exec(
			ctx,
			query,
			t.ID,
			t.DetectedAt,
			string(t.Type),
			t.Key,
			membersJSON,
			t.MemberCount,
			t.AvgVelocity,
			t.Score,
			t.Description,
		)
		if err != nil {
			return &errs.WriteError{Op: "record trend", Err: err}
		}
		return nil
	})
}

// RecentTrends lists up to limit trends, newest first.
func (s *TrendStore) RecentTrends(ctx context.Context, limit int) ([]trend.DetectedTrend, error) {
	query := `
		SELECT id, detected_at, trend_type, trend_key,
			member_content_ids, member_count, avg_velocity, score, description
		FROM detected_trends
		ORDER BY detected_at DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying trends: %w", err)
	}
	defer rows.Close()

	var trends []trend.DetectedTrend
	for rows.Next() {
		var (
			t           trend.DetectedTrend
			typ         string
			membersJSON []byte
		)
		err := rows.Scan(
			&t.ID,
			&t.DetectedAt,
			&typ,
			&t.Key,
			&membersJSON,
			&t.MemberCount,
			&t.AvgVelocity,
			&t.Score,
			&t.Description,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning trend: %w", err)
		}
		t.Type = trend.Type(typ)
		if err := json.Unmarshal(membersJSON, &t.MemberContentIDs); err != nil {
			return nil, fmt.Errorf("error unmarshaling trend members: %w", err)
		}
		trends = append(trends, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trends: %w", err)
	}
	return trends, nil
}
