// internal/domain/snapshot/scoring.go

package snapshot

import (
	"math"
	"time"
)

// Benchmark holds the reference engagement-rate thresholds for one
// platform and content-length class. Three increasing values separate
// typical, strong and breakout engagement. Benchmarks are immutable
// and injected into Score at call time.
type Benchmark struct {
	AvgEngagement   float64
	GoodEngagement  float64
	ViralEngagement float64
}

// DefaultBenchmarks returns the per-platform reference table.
func DefaultBenchmarks() map[Platform]Benchmark {
	return map[Platform]Benchmark{
		PlatformYouTube:       {AvgEngagement: 0.035, GoodEngagement: 0.05, ViralEngagement: 0.08},
		PlatformYouTubeShorts: {AvgEngagement: 0.05, GoodEngagement: 0.08, ViralEngagement: 0.12},
		PlatformTikTok:        {AvgEngagement: 0.06, GoodEngagement: 0.10, ViralEngagement: 0.15},
		PlatformInstagram:     {AvgEngagement: 0.05, GoodEngagement: 0.08, ViralEngagement: 0.12},
	}
}

// BenchmarkFor picks the benchmark row for a platform, falling back to
// the long-form YouTube row for unknown platforms.
func BenchmarkFor(table map[Platform]Benchmark, p Platform) Benchmark {
	if b, ok := table[p]; ok {
		return b
	}
	return table[PlatformYouTube]
}

// ScoreInput is one enriched observation presented to the scoring
// engine. Unknown fields stay zero and simply contribute no points.
type ScoreInput struct {
	Views          int64
	EngagementRate float64
	// ViewsPerHour is either measured velocity from history or the
	// views/age estimate a first sighting falls back to.
	ViewsPerHour  float64
	FollowerCount int64
	PublishedAt   time.Time
	ObservedAt    time.Time
}

// velocitySaturation is the views/hour value at which the velocity
// component maxes out.
const velocitySaturation = 10000.0

// Score derives a bounded 0-100 viral potential score and tier from a
// single observation and the platform benchmark.
//
// Five independently capped components are summed and clamped:
// engagement vs benchmark (40), velocity (25), reach per follower
// (15), freshness (10), absolute scale (10).
func Score(in ScoreInput, b Benchmark) (float64, PotentialTier) {
	var score float64

	// 1. Engagement relative to the platform average.
	var engagementVsAvg float64
	if b.AvgEngagement > 0 {
		engagementVsAvg = in.EngagementRate / b.AvgEngagement
	}
	switch {
	case engagementVsAvg >= 3:
		score += 40
	case engagementVsAvg >= 2:
		score += 30
	case engagementVsAvg >= 1.5:
		score += 20
	case engagementVsAvg >= 1:
		score += 10
	}

	// 2. Velocity, linear up to the saturation point.
	score += math.Min(math.Max(in.ViewsPerHour, 0)/velocitySaturation, 1) * 25

	// 3. Reach per follower. Zero when the follower count is unknown.
	if in.FollowerCount > 0 {
		viewsPerFollower := float64(in.Views) / float64(in.FollowerCount)
		switch {
		case viewsPerFollower >= 2:
			score += 15
		case viewsPerFollower >= 1:
			score += 10
		case viewsPerFollower >= 0.5:
			score += 5
		}
	}

	// 4. Freshness.
	if !in.PublishedAt.IsZero() {
		age := in.ObservedAt.Sub(in.PublishedAt).Hours()
		switch {
		case age < 24:
			score += 10
		case age < 48:
			score += 7
		case age < 168:
			score += 3
		}
	}

	// 5. Absolute scale.
	switch {
	case in.Views >= 1000000:
		score += 10
	case in.Views >= 100000:
		score += 7
	case in.Views >= 10000:
		score += 3
	}

	if score > 100 {
		score = 100
	}

	return score, tierFor(score, in.EngagementRate, b)
}

// tierFor evaluates the tier rules in order, first match wins. The
// engagement thresholds come before the plain score cutoffs inside
// each rule, so an item can classify as viral purely on engagement
// even with a middling score.
func tierFor(score, engagementRate float64, b Benchmark) PotentialTier {
	switch {
	case score >= 70 || engagementRate >= b.ViralEngagement:
		return TierViral
	case score >= 50 || engagementRate >= b.GoodEngagement:
		return TierHigh
	case score >= 30:
		return TierMedium
	case engagementRate >= b.AvgEngagement:
		return TierGrowing
	default:
		return TierLow
	}
}
