// internal/domain/trend/cluster_test.go

package trend

import (
	"math"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"trendspy/internal/domain/snapshot"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func item(id string, velocity, accel float64, views int64, tags []string, sound, title string) Item {
	return Item{
		Snapshot: snapshot.VideoSnapshot{
			ContentID: id,
			Title:     title,
			Views:     views,
			Hashtags:  tags,
			SoundID:   sound,
		},
		Velocity: snapshot.Velocity{
			ViewsPerHour: velocity,
			Acceleration: accel,
			Samples:      3,
		},
	}
}

func TestAnalyzeHashtagCluster(t *testing.T) {
	// Two items share #trend at velocities 300 and 500; padding items
	// hold the working-set average at 200 so both clear the 0.5x floor.
	items := []Item{
		item("u1", 300, 1, 1000, []string{"trend"}, "", ""),
		item("u2", 500, 1, 2000, []string{"trend"}, "", ""),
		item("u3", 150, 1, 500, nil, "", ""),
		item("u4", 50, 1, 100, nil, "", ""),
		item("u5", 0, 1, 10, []string{"trend"}, "", ""), // inactive, never joins
	}

	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)

	if !almost(a.AvgVelocity, 250) {
		t.Fatalf("avg velocity = %v, want 250 over the four active items", a.AvgVelocity)
	}
	var found *DetectedTrend
	for i := range a.Trends {
		if a.Trends[i].Type == TypeHashtag && a.Trends[i].Key == "trend" {
			found = &a.Trends[i]
		}
	}
	if found == nil {
		t.Fatalf("no hashtag cluster for #trend in %v", a.Trends)
	}
	if found.MemberCount != 2 {
		t.Errorf("member count = %d, want 2", found.MemberCount)
	}
	if !almost(found.Score, 800) {
		t.Errorf("score = %v, want avg 400 x 2 members = 800", found.Score)
	}
	if len(found.MemberContentIDs) == 0 {
		t.Errorf("member sample must be non-empty")
	}
}

func TestAnalyzeSingletonIsNotATrend(t *testing.T) {
	items := []Item{
		item("u1", 900, 1, 1000, []string{"solo"}, "", ""),
		item("u2", 100, 1, 1000, nil, "", ""),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	for _, tr := range a.Trends {
		if tr.Key == "solo" {
			t.Fatalf("a cluster of one must not be emitted: %+v", tr)
		}
	}
}

func TestAnalyzeEmptyActiveShortCircuits(t *testing.T) {
	items := []Item{
		item("u1", 0, 1, 100, []string{"x"}, "", ""),
		item("u2", -50, 1, 100, []string{"x"}, "", ""),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	if len(a.Trends) != 0 || a.AvgVelocity != 0 {
		t.Fatalf("no active items should produce an empty analysis, got %+v", a)
	}
	if a.TotalAnalyzed != 2 {
		t.Errorf("total analyzed = %d, want 2", a.TotalAnalyzed)
	}
}

func TestAnalyzeSoundCluster(t *testing.T) {
	items := []Item{
		item("u1", 400, 1, 1000, nil, "catchy beat", ""),
		item("u2", 600, 1, 1000, nil, "Catchy Beat", ""),
		item("u3", 200, 1, 1000, nil, "", ""),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	var found bool
	for _, tr := range a.Trends {
		if tr.Type == TypeSound && tr.Key == "catchy beat" && tr.MemberCount == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a case-folded sound cluster, got %v", a.Trends)
	}
}

func TestAnalyzeTopicTokens(t *testing.T) {
	items := []Item{
		item("u1", 400, 1, 1000, nil, "", "This DANCE challenge is wild"),
		item("u2", 600, 1, 1000, nil, "", "new dance trend for you"),
		item("u3", 500, 1, 1000, nil, "", "cat nap"), // tokens under 4 chars never qualify
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)

	var gotDance, gotShort bool
	for _, tr := range a.Trends {
		if tr.Type != TypeTopic {
			continue
		}
		if tr.Key == "dance" {
			gotDance = true
		}
		if tr.Key == "cat" || tr.Key == "nap" || tr.Key == "this" {
			gotShort = true
		}
	}
	if !gotDance {
		t.Errorf("expected topic cluster for 'dance', trends: %v", a.Trends)
	}
	if gotShort {
		t.Errorf("short or stop-word tokens must not become topics")
	}
}

func TestAnalyzeRisingFlags(t *testing.T) {
	// avg over active = (1000+100+100)/3 = 400.
	items := []Item{
		item("fast", 1000, 1, 5000, nil, "", ""),  // > 2x avg
		item("accel", 100, 2.5, 5000, nil, "", ""), // acceleration > 2
		item("calm", 100, 1, 5000, nil, "", ""),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)

	got := map[string]bool{}
	for _, it := range a.Rising {
		got[it.Snapshot.ContentID] = true
	}
	if !got["fast"] || !got["accel"] {
		t.Fatalf("rising = %v, want fast and accel flagged", got)
	}
	if got["calm"] {
		t.Fatalf("calm item must not be flagged rising")
	}
}

func TestAnalyzeSmallAccountGems(t *testing.T) {
	items := []Item{
		item("gem", 500, 4, 50000, nil, "", ""),
		item("big", 500, 4, 5000000, nil, "", ""),
		item("slow", 500, 1.2, 50000, nil, "", ""),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	if len(a.SmallAccountGems) != 1 || a.SmallAccountGems[0].Snapshot.ContentID != "gem" {
		t.Fatalf("gems = %v, want only the small accelerating item", a.SmallAccountGems)
	}
}

func TestAnalyzeIdempotentOnUnchangedWorkingSet(t *testing.T) {
	items := []Item{
		item("u1", 300, 1, 1000, []string{"trend", "viral"}, "beat", "dance challenge time"),
		item("u2", 500, 1, 2000, []string{"trend"}, "beat", "dance moves compilation"),
		item("u3", 150, 1, 500, []string{"viral"}, "", ""),
	}
	c := NewClusterer(DefaultClusterConfig())

	first := c.Analyze(items, testNow)
	second := c.Analyze(items, testNow)

	if len(first.Trends) != len(second.Trends) {
		t.Fatalf("trend counts differ: %d vs %d", len(first.Trends), len(second.Trends))
	}
	for i := range first.Trends {
		f, s := first.Trends[i], second.Trends[i]
		if f.Key != s.Key || f.Type != s.Type || !almost(f.Score, s.Score) {
			t.Errorf("rank %d differs: %s/%s %.1f vs %s/%s %.1f",
				i, f.Type, f.Key, f.Score, s.Type, s.Key, s.Score)
		}
	}
	// Relative order is only asserted between distinct scores; equal
	// scores keep first-occurrence order.
	for i := 1; i < len(first.Trends); i++ {
		if first.Trends[i].Score > first.Trends[i-1].Score {
			t.Errorf("trends not ranked descending at %d", i)
		}
	}
}

func TestRenderReportTruncatesOnRuneBoundaries(t *testing.T) {
	title := strings.Repeat("ü", 60) + " dançinha challenge"
	items := []Item{
		item("u1", 300, 4, 1000, []string{"trend"}, "", title),
		item("u2", 500, 1, 2000, []string{"trend"}, "", title),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	report := RenderReport(a)

	if !utf8.ValidString(report) {
		t.Fatalf("report contains invalid UTF-8:\n%s", report)
	}
	if got := truncate(title, 40); utf8.RuneCountInString(got) != 43 {
		t.Errorf("truncate kept %d runes, want 40 plus the ellipsis", utf8.RuneCountInString(got))
	}
}

func TestRenderReportContainsSections(t *testing.T) {
	items := []Item{
		item("u1", 300, 4, 1000, []string{"trend"}, "", "dance dance"),
		item("u2", 500, 1, 2000, []string{"trend"}, "", "dance again"),
	}
	a := NewClusterer(DefaultClusterConfig()).Analyze(items, testNow)
	report := RenderReport(a)

	for _, want := range []string{"TREND WATCH REPORT", "Average velocity", "POTENTIAL TRENDS"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
