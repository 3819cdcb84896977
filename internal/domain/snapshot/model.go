// internal/domain/snapshot/model.go

package snapshot

import (
	"net/url"
	"strings"
	"time"
)

// Platform identifies the origin of a content item. Short-form and
// long-form variants of the same site are distinct platforms because
// they carry distinct engagement benchmarks.
type Platform string

const (
	PlatformYouTube       Platform = "youtube"
	PlatformYouTubeShorts Platform = "youtube_shorts"
	PlatformTikTok        Platform = "tiktok"
	PlatformInstagram     Platform = "instagram"
)

// PotentialTier classifies a content item's viral potential.
type PotentialTier string

const (
	TierViral   PotentialTier = "viral"
	TierHigh    PotentialTier = "high"
	TierMedium  PotentialTier = "medium"
	TierGrowing PotentialTier = "growing"
	TierLow     PotentialTier = "low"
)

// shortFormMaxSeconds is the duration cutoff below which a YouTube
// upload is treated as a Short.
const shortFormMaxSeconds = 65

// VideoSnapshot is one observation of one content item at one point in
// time. Histories are append-only: a snapshot is never mutated in
// place, re-observation appends a new row.
type VideoSnapshot struct {
	ContentID      string
	Platform       Platform
	Title          string
	Uploader       string
	SourceRef      string
	ObservedAt     time.Time
	PublishedAt    time.Time
	Views          int64
	Likes          int64
	Comments       int64
	Shares         int64
	Hashtags       []string
	SoundID        string
	FollowerCount  int64
	ViralScore     float64
	EngagementRate float64
	Tier           PotentialTier
	Category       string
}

// IsShortForm reports whether the item belongs to a short-form bucket.
func (s VideoSnapshot) IsShortForm() bool {
	return s.Platform == PlatformYouTubeShorts || s.Platform == PlatformTikTok
}

// WatchSource is a configured origin (channel, account or query) the
// watcher polls repeatedly. Sources are soft-deactivated, never
// deleted, so recorded history stays attributable.
type WatchSource struct {
	ID          int64
	Platform    Platform
	SourceRef   string
	DisplayName string
	Active      bool
	AddedAt     time.Time
}

// DetectPlatform maps a source URL onto a platform, or "" when the URL
// belongs to no supported site.
func DetectPlatform(ref string) Platform {
	lower := strings.ToLower(ref)
	switch {
	case strings.Contains(lower, "youtube.com"), strings.Contains(lower, "youtu.be"):
		return PlatformYouTube
	case strings.Contains(lower, "tiktok.com"):
		return PlatformTikTok
	case strings.Contains(lower, "instagram.com"):
		return PlatformInstagram
	}
	return ""
}

// RawRecord is the structured result a source adapter returns. Fields
// a platform does not expose stay at their zero values and never
// propagate as nulls into scoring math.
type RawRecord struct {
	ID              string
	URL             string
	Title           string
	Uploader        string
	Views           int64
	Likes           int64
	Comments        int64
	Shares          int64
	PublishedAt     time.Time
	DurationSeconds int
	Hashtags        []string
	SoundID         string
	FollowerCount   int64
}

// CanonicalURL normalizes a content URL for identity comparison:
// lower-cased scheme and host, no query string, no trailing slash.
// Dedup inside a discovery pass keys on this value.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.TrimSpace(raw), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	// Video identity on YouTube lives in the v query parameter.
	if v := u.Query().Get("v"); v != "" {
		u.RawQuery = "v=" + v
	} else {
		u.RawQuery = ""
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// EngagementRate returns (likes+comments)/views, or 0 when views is 0.
func EngagementRate(likes, comments, views int64) float64 {
	if views <= 0 {
		return 0
	}
	return float64(likes+comments) / float64(views)
}

// NewFromRaw constructs a validated snapshot from an adapter record,
// observed now. Negative counters are clamped to zero, the platform of
// a YouTube record shorter than the Shorts cutoff is narrowed to
// youtube_shorts, and the engagement rate is computed once here so
// downstream engines see a consistent value.
func NewFromRaw(r RawRecord, platform Platform, observedAt time.Time) VideoSnapshot {
	if platform == PlatformYouTube && r.DurationSeconds > 0 && r.DurationSeconds < shortFormMaxSeconds {
		platform = PlatformYouTubeShorts
	}
	s := VideoSnapshot{
		ContentID:     CanonicalURL(r.URL),
		Platform:      platform,
		Title:         r.Title,
		Uploader:      r.Uploader,
		ObservedAt:    observedAt,
		PublishedAt:   r.PublishedAt,
		Views:         clampNonNegative(r.Views),
		Likes:         clampNonNegative(r.Likes),
		Comments:      clampNonNegative(r.Comments),
		Shares:        clampNonNegative(r.Shares),
		Hashtags:      normalizeTags(r.Hashtags),
		SoundID:       strings.ToLower(strings.TrimSpace(r.SoundID)),
		FollowerCount: clampNonNegative(r.FollowerCount),
	}
	s.EngagementRate = EngagementRate(s.Likes, s.Comments, s.Views)
	return s
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
