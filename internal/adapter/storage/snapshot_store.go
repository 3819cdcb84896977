// internal/adapter/storage/snapshot_store.go

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/pkg/errs"
)

// SnapshotStore owns the persisted snapshot time series. All writers
// append; historical rows are never mutated, so readers need no
// locking against writers.
type SnapshotStore struct {
	db    *pgxpool.Pool
	retry RetryPolicy
}

// NewSnapshotStore creates a snapshot store. Writes go through the
// given retry policy.
func NewSnapshotStore(db *pgxpool.Pool, retry RetryPolicy) *SnapshotStore {
	return &SnapshotStore{db: db, retry: retry}
}

// EnsureSchema creates the snapshot tables and indexes.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS video_history (
			id BIGSERIAL PRIMARY KEY,
			content_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			uploader TEXT NOT NULL DEFAULT '',
			source_ref TEXT NOT NULL DEFAULT '',
			observed_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ,
			views BIGINT NOT NULL DEFAULT 0,
			likes BIGINT NOT NULL DEFAULT 0,
			comments BIGINT NOT NULL DEFAULT 0,
			shares BIGINT NOT NULL DEFAULT 0,
			hashtags JSONB NOT NULL DEFAULT '[]',
			sound_id TEXT NOT NULL DEFAULT '',
			follower_count BIGINT NOT NULL DEFAULT 0,
			viral_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			potential TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			archived BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_video_history_content ON video_history(content_id)`,
		`CREATE INDEX IF NOT EXISTS idx_video_history_observed ON video_history(observed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("error ensuring snapshot schema: %w", err)
		}
	}
	return nil
}

// Record appends one snapshot. The store offers no idempotency: a
// duplicate observation submitted twice is stored twice, deduplication
// belongs to the discovery pass.
func (s *SnapshotStore) Record(ctx context.Context, snap snapshot.VideoSnapshot) error {
	query := `
		INSERT INTO video_history (
			content_id, platform, title, uploader, source_ref,
			observed_at, published_at, views, likes, comments, shares,
			hashtags, sound_id, follower_count,
			viral_score, engagement_rate, potential, category
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17, $18
		)
	`

	if snap.ObservedAt.IsZero() {
		snap.ObservedAt = time.Now()
	}

	hashtagsJSON, err := json.Marshal(tagsOrEmpty(snap.Hashtags))
	if err != nil {
		return fmt.Errorf("error marshaling hashtags: %w", err)
	}

	var publishedAt *time.Time
	if !snap.PublishedAt.IsZero() {
		publishedAt = &snap.PublishedAt
	}

	return s.retry.Do(ctx, func() error {
		_, err := s.db.Exec(
			ctx,
			query,
			snap.ContentID,
			string(snap.Platform),
			snap.Title,
			snap.Uploader,
			snap.SourceRef,
			snap.ObservedAt,
			publishedAt,
			snap.Views,
			snap.Likes,
			snap.Comments,
			snap.Shares,
			hashtagsJSON,
			snap.SoundID,
			snap.FollowerCount,
			snap.ViralScore,
			snap.EngagementRate,
			string(snap.Tier),
			snap.Category,
		)
		if err != nil {
			return &errs.WriteError{Op: "record snapshot", Err: err}
		}
		return nil
	})
}

const snapshotColumns = `
	content_id, platform, title, uploader, source_ref,
	observed_at, published_at, views, likes, comments, shares,
	hashtags, sound_id, follower_count,
	viral_score, engagement_rate, potential, category
`

// History returns up to limit most recent snapshots for a content
// item, descending by observed_at. An unknown item yields an empty
// slice, not an error.
func (s *SnapshotStore) History(ctx context.Context, contentID string, limit int) ([]snapshot.VideoSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM video_history
		WHERE content_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, contentID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// Previous returns the observation immediately before latest, or nil
// when fewer than two exist.
func (s *SnapshotStore) Previous(ctx context.Context, contentID string) (*snapshot.VideoSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM video_history
		WHERE content_id = $1
		ORDER BY observed_at DESC
		LIMIT 1 OFFSET 1
	`

	rows, err := s.db.Query(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("error querying previous snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

// LatestPerItem returns, for every distinct non-archived content item,
// its single most recent snapshot. This is the working set a trend
// analysis pass runs over.
func (s *SnapshotStore) LatestPerItem(ctx context.Context) ([]snapshot.VideoSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM video_history vh
		INNER JOIN (
			SELECT content_id AS latest_id, MAX(observed_at) AS max_observed
			FROM video_history
			WHERE NOT archived
			GROUP BY content_id
		) latest ON vh.content_id = latest.latest_id AND vh.observed_at = latest.max_observed
		ORDER BY vh.observed_at DESC
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying latest snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// RecentItems lists the limit most recently observed distinct items,
// descending by observation time.
func (s *SnapshotStore) RecentItems(ctx context.Context, limit int) ([]snapshot.VideoSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM video_history vh
		INNER JOIN (
			SELECT content_id AS latest_id, MAX(observed_at) AS max_observed
			FROM video_history
			GROUP BY content_id
		) latest ON vh.content_id = latest.latest_id AND vh.observed_at = latest.max_observed
		ORDER BY vh.observed_at DESC
		LIMIT $1
	`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying recent items: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ArchiveStale flags items whose newest observation is older than the
// horizon. History is kept; archived items just leave the working set.
func (s *SnapshotStore) ArchiveStale(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon)
	query := `
		UPDATE video_history SET archived = TRUE
		WHERE NOT archived AND content_id IN (
			SELECT content_id
			FROM video_history
			GROUP BY content_id
			HAVING MAX(observed_at) < $1
		)
	`

	tag, err := s.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, &errs.WriteError{Op: "archive stale", Err: err}
	}
	return tag.RowsAffected(), nil
}

// Stats returns aggregate counts for observability.
func (s *SnapshotStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	query := `
		SELECT
			(SELECT COUNT(DISTINCT content_id) FROM video_history),
			(SELECT COUNT(*) FROM video_history),
			(SELECT COUNT(*) FROM detected_trends),
			(SELECT COUNT(*) FROM watch_sources WHERE active)
	`
	err := s.db.QueryRow(ctx, query).Scan(
		&st.ItemsTracked,
		&st.TotalSnapshots,
		&st.TrendsDetected,
		&st.ActiveSources,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("error querying stats: %w", err)
	}
	return st, nil
}

// Stats are aggregate store counts.
type Stats struct {
	ItemsTracked   int64
	TotalSnapshots int64
	TrendsDetected int64
	ActiveSources  int64
}

func scanSnapshots(rows pgx.Rows) ([]snapshot.VideoSnapshot, error) {
	var snaps []snapshot.VideoSnapshot
	for rows.Next() {
		var (
			snap         snapshot.VideoSnapshot
			platform     string
			tier         string
			publishedAt  *time.Time
			hashtagsJSON []byte
		)
		err := rows.Scan(
			&snap.ContentID,
			&platform,
			&snap.Title,
			&snap.Uploader,
			&snap.SourceRef,
			&snap.ObservedAt,
			&publishedAt,
			&snap.Views,
			&snap.Likes,
			&snap.Comments,
			&snap.Shares,
			&hashtagsJSON,
			&snap.SoundID,
			&snap.FollowerCount,
			&snap.ViralScore,
			&snap.EngagementRate,
			&tier,
			&snap.Category,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning snapshot: %w", err)
		}
		snap.Platform = snapshot.Platform(platform)
		snap.Tier = snapshot.PotentialTier(tier)
		if publishedAt != nil {
			snap.PublishedAt = *publishedAt
		}
		if err := json.Unmarshal(hashtagsJSON, &snap.Hashtags); err != nil {
			return nil, fmt.Errorf("error unmarshaling hashtags: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
