// internal/service/discovery/orchestrator_test.go

package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/domain/trend"
	"trendspy/internal/pkg/errs"
)

// fakeAdapter serves canned records per source ref.
type fakeAdapter struct {
	platform snapshot.Platform
	byRef    map[string][]snapshot.RawRecord
	errByRef map[string]error
	onFetch  func(ref string)

	mu       sync.Mutex
	calls    []string
	inFlight int
	maxSeen  int
}

func (f *fakeAdapter) Platform() snapshot.Platform { return f.platform }

func (f *fakeAdapter) FetchRecent(ctx context.Context, ref string, maxItems int) ([]snapshot.RawRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ref)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.onFetch != nil {
		f.onFetch(ref)
	}
	if err := f.errByRef[ref]; err != nil {
		return nil, err
	}
	recs := f.byRef[ref]
	if len(recs) > maxItems {
		recs = recs[:maxItems]
	}
	return recs, nil
}

// memStore is an append-only in-memory stand-in for the pgx store.
type memStore struct {
	mu        sync.Mutex
	snapshots map[string][]snapshot.VideoSnapshot
	trends    []trend.DetectedTrend
	recordErr error
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[string][]snapshot.VideoSnapshot)}
}

// Like the pgx pool, every operation fails once its context is
// cancelled.
func (m *memStore) Record(ctx context.Context, snap snapshot.VideoSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	m.snapshots[snap.ContentID] = append(m.snapshots[snap.ContentID], snap)
	return nil
}

func (m *memStore) History(ctx context.Context, contentID string, limit int) ([]snapshot.VideoSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append([]snapshot.VideoSnapshot(nil), m.snapshots[contentID]...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].ObservedAt.After(history[j].ObservedAt)
	})
	if len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (m *memStore) RecordTrend(ctx context.Context, t trend.DetectedTrend) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trends = append(m.trends, t)
	return nil
}

func (m *memStore) countFor(contentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots[snapshot.CanonicalURL(contentID)])
}

func rec(id string, views int64) snapshot.RawRecord {
	return snapshot.RawRecord{
		ID:          id,
		URL:         "https://www.youtube.com/watch?v=" + id,
		Title:       "video " + id,
		Views:       views,
		Likes:       views / 20,
		PublishedAt: time.Now().Add(-10 * time.Hour),
	}
}

func testOrchestrator(t *testing.T, stages []Stage, adapters []SourceAdapter, store *memStore) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Stages = stages
	return NewOrchestrator(adapters, store, store,
		trend.NewClusterer(trend.DefaultClusterConfig()), cfg, zap.NewNop().Sugar())
}

func TestRunDeduplicatesByCanonicalURL(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef: map[string][]snapshot.RawRecord{
			"search:a": {rec("dup", 1000)},
			"search:b": {
				{ID: "dup", URL: "https://www.YouTube.com/watch?v=dup&feature=share", Title: "same video", Views: 1000},
				rec("fresh", 500),
			},
		},
	}
	stages := []Stage{{
		Label: "search",
		Sources: []StageSource{
			{Platform: snapshot.PlatformYouTube, Ref: "search:a"},
			{Platform: snapshot.PlatformYouTube, Ref: "search:b"},
		},
		MaxPerSource: 10,
	}}
	store := newMemStore()

	res := testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), nil)

	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2 after dedup", len(res.Records))
	}
	if got := store.countFor("https://www.youtube.com/watch?v=dup"); got != 1 {
		t.Fatalf("persisted %d snapshots for the duplicate URL, want exactly 1", got)
	}
}

func TestRunStageFailureIsIsolated(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef: map[string][]snapshot.RawRecord{
			"search:good": {rec("ok", 2000)},
		},
		errByRef: map[string]error{
			"search:down": errs.ErrSourceUnavailable,
		},
	}
	stages := []Stage{
		{Label: "failing stage", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:down"}}, MaxPerSource: 5},
		{Label: "healthy stage", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:good"}}, MaxPerSource: 5},
	}
	store := newMemStore()

	res := testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), nil)

	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want the healthy stage's record", len(res.Records))
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one named entry", res.Errors)
	}
	if !errors.Is(res.Errors[0].Err, errs.ErrSourceUnavailable) {
		t.Errorf("error cause = %v, want ErrSourceUnavailable", res.Errors[0].Err)
	}
}

func TestRunEmitsOrderedProgressEndingInOneSummary(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef:    map[string][]snapshot.RawRecord{"search:x": {rec("v1", 100)}},
	}
	stages := []Stage{
		{Label: "one", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5},
		{Label: "two"},
	}
	store := newMemStore()
	events := make(chan Event, 32)

	testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), events)
	close(events)

	var progress []Progress
	var summaries int
	for e := range events {
		switch e.Kind {
		case EventProgress:
			progress = append(progress, *e.Progress)
			if summaries > 0 {
				t.Fatalf("progress event after the summary")
			}
		case EventSummary:
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("summaries = %d, want exactly 1", summaries)
	}
	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want one per stage", len(progress))
	}
	for i, p := range progress {
		if p.StageIndex != i+1 || p.StageCount != 2 {
			t.Errorf("progress %d = %+v, want ordered stage indexes", i, p)
		}
	}
	if progress[1].PercentComplete != 100 {
		t.Errorf("final percent = %d, want 100", progress[1].PercentComplete)
	}
}

func TestRunWithNoListenerAttached(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef:    map[string][]snapshot.RawRecord{"search:x": {rec("v1", 100)}},
	}
	stages := []Stage{{Label: "one", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5}}
	store := newMemStore()

	// Unbuffered channel nobody reads: non-blocking sends must drop
	// events rather than stall the pass.
	events := make(chan Event)
	done := make(chan struct{})
	go func() {
		testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), events)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run stalled on an unconsumed events channel")
	}
}

func TestRunCancellationPersistsCompletedStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef: map[string][]snapshot.RawRecord{
			"search:x": {rec("v1", 100)},
			"search:y": {rec("v2", 100)},
		},
		// Cancel from inside the first stage's fetch, so the run is
		// already cancelled when the second stage is considered.
		onFetch: func(ref string) {
			if ref == "search:x" {
				cancel()
			}
		},
	}
	stages := []Stage{
		{Label: "first", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5},
		{Label: "never reached", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:y"}}, MaxPerSource: 5},
	}
	store := newMemStore()
	o := testOrchestrator(t, stages, []SourceAdapter{adapter}, store)

	res := o.Run(ctx, nil)

	if res.Persisted != 1 {
		t.Fatalf("persisted = %d, want the completed stage's record", res.Persisted)
	}
	var named bool
	for _, se := range res.Errors {
		if errors.Is(se.Err, context.Canceled) {
			named = true
		}
	}
	if !named {
		t.Fatalf("cancellation must be named in the errors list, got %v", res.Errors)
	}
}

func TestRunDeliversSummaryToSlowConsumer(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef:    map[string][]snapshot.RawRecord{"search:x": {rec("v1", 100)}},
	}
	stages := []Stage{{Label: "one", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5}}
	store := newMemStore()

	// Unbuffered channel and a consumer that only starts draining
	// after the pass is already done emitting: progress may drop, the
	// terminal summary may not.
	events := make(chan Event)
	summaries := make(chan int, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		n := 0
		for e := range events {
			if e.Kind == EventSummary {
				n++
			}
		}
		summaries <- n
	}()

	testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), events)
	close(events)

	if n := <-summaries; n != 1 {
		t.Fatalf("summaries = %d, want exactly one delivered to a late consumer", n)
	}
}

func TestRunBoundsAdapterConcurrency(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef: map[string][]snapshot.RawRecord{
			"a": {rec("a", 1)}, "b": {rec("b", 1)}, "c": {rec("c", 1)}, "d": {rec("d", 1)},
		},
	}
	stages := []Stage{{
		Label: "wide",
		Sources: []StageSource{
			{Platform: snapshot.PlatformYouTube, Ref: "a"},
			{Platform: snapshot.PlatformYouTube, Ref: "b"},
			{Platform: snapshot.PlatformYouTube, Ref: "c"},
			{Platform: snapshot.PlatformYouTube, Ref: "d"},
		},
		MaxPerSource: 5,
	}}
	store := newMemStore()

	testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), nil)

	if adapter.maxSeen > maxAdaptersInFlight {
		t.Fatalf("saw %d concurrent fetches, limit is %d", adapter.maxSeen, maxAdaptersInFlight)
	}
	if len(adapter.calls) != 4 {
		t.Fatalf("calls = %d, want all four sources fetched", len(adapter.calls))
	}
}

func TestRunRanksByScoreAndSelectsCandidates(t *testing.T) {
	now := time.Now()
	hot := snapshot.RawRecord{
		ID: "hot", URL: "https://youtube.com/watch?v=hot", Title: "hot",
		Views: 2000000, Likes: 300000, Comments: 100000,
		PublishedAt: now.Add(-5 * time.Hour), FollowerCount: 10000,
	}
	cold := snapshot.RawRecord{
		ID: "cold", URL: "https://youtube.com/watch?v=cold", Title: "cold",
		Views: 50, PublishedAt: now.Add(-6 * 24 * time.Hour),
	}
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef:    map[string][]snapshot.RawRecord{"search:x": {cold, hot}},
	}
	stages := []Stage{{Label: "s", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5}}
	store := newMemStore()

	res := testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), nil)

	if res.Records[0].ContentID != "https://youtube.com/watch?v=hot" {
		t.Fatalf("ranking: first record = %s, want the hot item", res.Records[0].ContentID)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].ContentID != "https://youtube.com/watch?v=hot" {
		t.Fatalf("candidates = %v, want only the hot item", res.Candidates)
	}
}

func TestRunPersistFailureDegradesGracefully(t *testing.T) {
	adapter := &fakeAdapter{
		platform: snapshot.PlatformYouTube,
		byRef:    map[string][]snapshot.RawRecord{"search:x": {rec("v1", 100)}},
	}
	stages := []Stage{{Label: "s", Sources: []StageSource{{Platform: snapshot.PlatformYouTube, Ref: "search:x"}}, MaxPerSource: 5}}
	store := newMemStore()
	store.recordErr = &errs.WriteError{Op: "record snapshot", Err: errors.New("db down")}

	res := testOrchestrator(t, stages, []SourceAdapter{adapter}, store).Run(context.Background(), nil)

	if len(res.Records) != 1 {
		t.Fatalf("in-memory records must survive a persist failure")
	}
	if res.Persisted != 0 {
		t.Fatalf("persisted = %d, want 0", res.Persisted)
	}
	var named bool
	for _, se := range res.Errors {
		if se.Stage == "persist" {
			named = true
		}
	}
	if !named {
		t.Fatalf("persist failure must be named in errors, got %v", res.Errors)
	}
}
