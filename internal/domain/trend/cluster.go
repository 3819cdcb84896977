// internal/domain/trend/cluster.go

package trend

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClusterConfig carries the clustering heuristics. The floors and
// factors are tunable rather than baked into the algorithm.
type ClusterConfig struct {
	// RelevanceFloor keeps near-idle items from diluting a cluster:
	// only items with velocity above RelevanceFloor x the working-set
	// average may join a group.
	RelevanceFloor float64
	// MinMembers is the smallest group that counts as a trend.
	MinMembers int
	// MaxSampleMembers bounds the member sample carried on an emitted
	// trend.
	MaxSampleMembers int
	// RisingVelocityFactor and RisingAccelFloor flag breakout items:
	// velocity above factor x average, or acceleration above the floor.
	RisingVelocityFactor float64
	RisingAccelFloor     float64
	// GemAccelFloor and GemMaxViews bound the small-account-gem report.
	GemAccelFloor float64
	GemMaxViews   int64
	// TopicMinCount is how many titles must share a token before it
	// counts as a topic.
	TopicMinCount int
	TopVelocityN  int
}

// DefaultClusterConfig returns the tuned heuristics.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		RelevanceFloor:       0.5,
		MinMembers:           2,
		MaxSampleMembers:     5,
		RisingVelocityFactor: 2,
		RisingAccelFloor:     2,
		GemAccelFloor:        3,
		GemMaxViews:          100000,
		TopicMinCount:        2,
		TopVelocityN:         10,
	}
}

// Clusterer groups scored, velocity-annotated items by shared
// attribute and ranks the groups. The pass is greedy and single-level;
// groups with exactly equal scores keep the insertion order of their
// attribute's first occurrence, which is accepted non-determinism.
type Clusterer struct {
	cfg ClusterConfig
}

func NewClusterer(cfg ClusterConfig) *Clusterer {
	if cfg.MinMembers <= 0 {
		cfg = DefaultClusterConfig()
	}
	return &Clusterer{cfg: cfg}
}

// Analyze runs one clustering pass over the working set.
func (c *Clusterer) Analyze(items []Item, now time.Time) Analysis {
	a := Analysis{TotalAnalyzed: len(items), AnalyzedAt: now}

	active := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Velocity.ViewsPerHour > 0 {
			active = append(active, it)
		}
	}
	if len(active) == 0 {
		return a
	}

	var sum float64
	for _, it := range active {
		sum += it.Velocity.ViewsPerHour
	}
	a.AvgVelocity = sum / float64(len(active))
	floor := a.AvgVelocity * c.cfg.RelevanceFloor

	a.Trends = append(a.Trends, c.groupBy(active, TypeHashtag, floor, now, func(it Item) []string {
		return it.Snapshot.Hashtags
	})...)
	a.Trends = append(a.Trends, c.groupBy(active, TypeSound, floor, now, func(it Item) []string {
		if it.Snapshot.SoundID == "" {
			return nil
		}
		return []string{it.Snapshot.SoundID}
	})...)
	a.Trends = append(a.Trends, c.topicTrends(active, floor, now)...)

	sort.SliceStable(a.Trends, func(i, j int) bool {
		return a.Trends[i].Score > a.Trends[j].Score
	})

	for _, it := range active {
		if it.Velocity.ViewsPerHour > a.AvgVelocity*c.cfg.RisingVelocityFactor ||
			it.Velocity.Acceleration > c.cfg.RisingAccelFloor {
			a.Rising = append(a.Rising, it)
		}
		if it.Velocity.Acceleration > c.cfg.GemAccelFloor && it.Snapshot.Views < c.cfg.GemMaxViews {
			a.SmallAccountGems = append(a.SmallAccountGems, it)
		}
	}
	sort.SliceStable(a.Rising, func(i, j int) bool {
		return a.Rising[i].Velocity.ViewsPerHour > a.Rising[j].Velocity.ViewsPerHour
	})
	sort.SliceStable(a.SmallAccountGems, func(i, j int) bool {
		return a.SmallAccountGems[i].Velocity.Acceleration > a.SmallAccountGems[j].Velocity.Acceleration
	})

	a.TopVelocity = append(a.TopVelocity, active...)
	sort.SliceStable(a.TopVelocity, func(i, j int) bool {
		return a.TopVelocity[i].Velocity.ViewsPerHour > a.TopVelocity[j].Velocity.ViewsPerHour
	})
	if len(a.TopVelocity) > c.cfg.TopVelocityN {
		a.TopVelocity = a.TopVelocity[:c.cfg.TopVelocityN]
	}

	return a
}

// groupBy builds groups over one attribute dimension. keys returns the
// normalized attribute values of one item; an item above the relevance
// floor joins every group its keys name.
func (c *Clusterer) groupBy(active []Item, typ Type, floor float64, now time.Time, keys func(Item) []string) []DetectedTrend {
	groups := make(map[string][]Item)
	order := make([]string, 0)
	for _, it := range active {
		if it.Velocity.ViewsPerHour <= floor {
			continue
		}
		for _, k := range keys(it) {
			k = strings.ToLower(strings.TrimSpace(k))
			if k == "" {
				continue
			}
			if _, seen := groups[k]; !seen {
				order = append(order, k)
			}
			groups[k] = append(groups[k], it)
		}
	}

	trends := make([]DetectedTrend, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if len(members) < c.cfg.MinMembers {
			continue
		}
		trends = append(trends, c.emit(typ, key, members, now))
	}
	return trends
}

var topicToken = regexp.MustCompile(`\b[a-z]{4,}\b`)

// topicTrends derives a weak topic signal from frequent title tokens.
func (c *Clusterer) topicTrends(active []Item, floor float64, now time.Time) []DetectedTrend {
	groups := make(map[string][]Item)
	order := make([]string, 0)
	for _, it := range active {
		if it.Velocity.ViewsPerHour <= floor {
			continue
		}
		seen := make(map[string]struct{})
		for _, word := range topicToken.FindAllString(strings.ToLower(it.Snapshot.Title), -1) {
			if _, stop := stopWords[word]; stop {
				continue
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			if _, ok := groups[word]; !ok {
				order = append(order, word)
			}
			groups[word] = append(groups[word], it)
		}
	}

	trends := make([]DetectedTrend, 0)
	for _, key := range order {
		members := groups[key]
		if len(members) < c.cfg.TopicMinCount || len(members) < c.cfg.MinMembers {
			continue
		}
		trends = append(trends, c.emit(TypeTopic, key, members, now))
	}
	return trends
}

// emit scores one group. Score rewards both speed and breadth: the
// group's average velocity times its member count.
func (c *Clusterer) emit(typ Type, key string, members []Item, now time.Time) DetectedTrend {
	var sum float64
	for _, m := range members {
		sum += m.Velocity.ViewsPerHour
	}
	avg := sum / float64(len(members))

	sample := make([]string, 0, c.cfg.MaxSampleMembers)
	for _, m := range members {
		if len(sample) == c.cfg.MaxSampleMembers {
			break
		}
		sample = append(sample, m.Snapshot.ContentID)
	}

	return DetectedTrend{
		ID:               uuid.New().String(),
		Type:             typ,
		Key:              key,
		MemberContentIDs: sample,
		MemberCount:      len(members),
		AvgVelocity:      avg,
		Score:            avg * float64(len(members)),
		Description:      fmt.Sprintf("%d videos, avg velocity: %.1f/h", len(members), avg),
		DetectedAt:       now,
	}
}
