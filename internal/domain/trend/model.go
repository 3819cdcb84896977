// internal/domain/trend/model.go

package trend

import (
	"time"

	"trendspy/internal/domain/snapshot"
)

// Type is the grouping dimension a trend emerged from.
type Type string

const (
	TypeHashtag Type = "hashtag"
	TypeSound   Type = "sound"
	TypeTopic   Type = "topic"
)

// DetectedTrend is a ranked cluster of related content items sharing
// one attribute. A trend is immutable once written: re-detection on a
// later pass creates a new record, preserving the historical timeline.
type DetectedTrend struct {
	ID               string
	Type             Type
	Key              string
	MemberContentIDs []string
	MemberCount      int
	AvgVelocity      float64
	Score            float64
	Description      string
	DetectedAt       time.Time
}

// Item is one entry of the clustering working set: the latest snapshot
// of a content item enriched with its computed velocity.
type Item struct {
	Snapshot snapshot.VideoSnapshot
	Velocity snapshot.Velocity
}

// Analysis is the result of one clustering pass.
type Analysis struct {
	// Trends holds hashtag, sound and topic clusters ranked by score
	// descending.
	Trends []DetectedTrend
	// Rising items break out on their own: velocity far above the
	// working-set average or strong acceleration, regardless of any
	// cluster membership.
	Rising []Item
	// TopVelocity is the fastest-growing slice of the working set.
	TopVelocity []Item
	// SmallAccountGems accelerate hard while still small, the earliest
	// usable signal.
	SmallAccountGems []Item
	AvgVelocity      float64
	TotalAnalyzed    int
	AnalyzedAt       time.Time
}
