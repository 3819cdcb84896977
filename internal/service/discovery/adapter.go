// internal/service/discovery/adapter.go

package discovery

import (
	"context"

	"trendspy/internal/domain/snapshot"
)

// SourceAdapter is an opaque external data source for one platform.
// Extraction mechanics live entirely behind this boundary.
//
// An adapter failure surfaces as an error return; it must never panic
// into the orchestrator. A throttled source returns
// errs.ErrRateLimited so the watcher can apply a per-source cool-down.
type SourceAdapter interface {
	// Platform names the platform this adapter serves.
	Platform() snapshot.Platform

	// FetchRecent returns up to maxItems structured records for a
	// source reference (channel URL, account, or search query).
	FetchRecent(ctx context.Context, sourceRef string, maxItems int) ([]snapshot.RawRecord, error)
}

// StageSource names one reference to fetch during a stage.
type StageSource struct {
	Platform snapshot.Platform
	Ref      string
}

// Stage is one independently retryable step of a discovery pass. A
// failing stage is recorded and skipped, never aborting the stages
// after it.
type Stage struct {
	Label        string
	Sources      []StageSource
	MaxPerSource int
}

// ChannelStages builds a discovery plan that sweeps a flat list of
// channel references on one platform, closed by the ranking step. Used
// when the deployment configures its own channel list instead of the
// stock plan.
func ChannelStages(platform snapshot.Platform, refs []string, maxPerSource int) []Stage {
	sources := make([]StageSource, 0, len(refs))
	for _, ref := range refs {
		sources = append(sources, StageSource{Platform: platform, Ref: ref})
	}
	return []Stage{
		{Label: "channel sweep", Sources: sources, MaxPerSource: maxPerSource},
		{Label: "analysis and ranking"},
	}
}

// DefaultStages returns the stock discovery plan: sweeps over
// high-volume entertainment and viral compilation channels, closed by
// the ranking step. Every ref is a channel reference the bundled feed
// adapter can serve; deployments with API-backed adapters override the
// plan through configuration.
func DefaultStages() []Stage {
	return []Stage{
		{
			Label: "entertainment channels",
			Sources: []StageSource{
				// MrBeast, Sidemen
				{Platform: snapshot.PlatformYouTube, Ref: "channel:UCX6OQ3DkcsbYNE6H8uQQuVA"},
				{Platform: snapshot.PlatformYouTube, Ref: "channel:UCDogdKl7t7NHzQ95aEwkdMw"},
			},
			MaxPerSource: 10,
		},
		{
			Label: "viral compilation channels",
			Sources: []StageSource{
				// FailArmy, Daily Dose Of Internet
				{Platform: snapshot.PlatformYouTube, Ref: "channel:UCPDis9pjXuqyI7RYLJ-TTSA"},
				{Platform: snapshot.PlatformYouTube, Ref: "channel:UCdC0An4ZPNr_YiFiYoVbwaw"},
			},
			MaxPerSource: 10,
		},
		{
			Label: "analysis and ranking",
		},
	}
}
