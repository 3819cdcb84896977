// internal/service/discovery/orchestrator.go

package discovery

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/domain/trend"
)

// maxAdaptersInFlight bounds the per-stage fan-out so external sources
// see at most two concurrent fetches from one pass.
const maxAdaptersInFlight = 2

// Store is the slice of the persistence boundary discovery needs.
type Store interface {
	Record(ctx context.Context, snap snapshot.VideoSnapshot) error
	History(ctx context.Context, contentID string, limit int) ([]snapshot.VideoSnapshot, error)
}

// TrendSink persists detected trend clusters.
type TrendSink interface {
	RecordTrend(ctx context.Context, t trend.DetectedTrend) error
}

// Config tunes a discovery pass.
type Config struct {
	Stages []Stage
	// MaxAge drops records older than this at discovery time; zero
	// disables the filter.
	MaxAge time.Duration
	// HistoryDepth is how many prior observations feed the velocity
	// computation.
	HistoryDepth int
	// CandidateLimit caps the reported viral candidate list.
	CandidateLimit int
	// VelocityFloorHours is the minimum interval for velocity math.
	VelocityFloorHours float64
	Benchmarks         map[snapshot.Platform]snapshot.Benchmark
}

// DefaultConfig mirrors the stock discovery plan.
func DefaultConfig() Config {
	return Config{
		Stages:             DefaultStages(),
		MaxAge:             7 * 24 * time.Hour,
		HistoryDepth:       3,
		CandidateLimit:     20,
		VelocityFloorHours: snapshot.DefaultHoursFloor,
		Benchmarks:         snapshot.DefaultBenchmarks(),
	}
}

// Result is what one discovery pass produced. A degraded pass still
// returns partial results; every dropped source or stage is named in
// Errors.
type Result struct {
	// Records is the deduplicated result set, descending by viral
	// score.
	Records []snapshot.VideoSnapshot
	// ShortForm and LongForm partition Records by format.
	ShortForm []snapshot.VideoSnapshot
	LongForm  []snapshot.VideoSnapshot
	// Candidates are the top items whose tier reached viral or high.
	Candidates []snapshot.VideoSnapshot
	Analysis   trend.Analysis
	Errors     []StageError
	Persisted  int
	StartedAt  time.Time
	Elapsed    time.Duration

	// analysisItems carries the velocity-annotated working set into
	// the clustering pass.
	analysisItems []trend.Item
}

// Orchestrator drives staged, progress-reporting collection from the
// source adapters, deduplicates, scores, clusters and persists.
type Orchestrator struct {
	adapters  map[snapshot.Platform]SourceAdapter
	store     Store
	trends    TrendSink
	clusterer *trend.Clusterer
	cfg       Config
	log       *zap.SugaredLogger

	now func() time.Time
}

// NewOrchestrator wires a discovery orchestrator. trends may be nil
// when no trend persistence is wanted (the analysis still runs).
func NewOrchestrator(
	adapters []SourceAdapter,
	store Store,
	trends TrendSink,
	clusterer *trend.Clusterer,
	cfg Config,
	log *zap.SugaredLogger,
) *Orchestrator {
	byPlatform := make(map[snapshot.Platform]SourceAdapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 3
	}
	if len(cfg.Benchmarks) == 0 {
		cfg.Benchmarks = snapshot.DefaultBenchmarks()
	}
	return &Orchestrator{
		adapters:  byPlatform,
		store:     store,
		trends:    trends,
		clusterer: clusterer,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run executes one discovery pass. Events are pushed to the optional
// events channel with non-blocking sends, so the pass proceeds
// correctly with a nil channel or an absent consumer. Cancellation is
// cooperative: it is checked between stages, and a cancelled run still
// persists everything accumulated up to the last completed stage.
//
// Run never fails as a whole; stage and persistence failures degrade
// the result and are named in Result.Errors.
func (o *Orchestrator) Run(ctx context.Context, events chan<- Event) *Result {
	started := o.now()
	res := &Result{StartedAt: started}

	seen := make(map[string]struct{})
	stageCount := len(o.cfg.Stages)

	for i, stage := range o.cfg.Stages {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, StageError{Stage: stage.Label, Err: err})
			o.log.Warnw("discovery cancelled", "stage", stage.Label, "completed_stages", i)
			break
		}

		for _, se := range o.runStage(ctx, stage, seen, res) {
			res.Errors = append(res.Errors, se)
			o.emit(events, Event{Kind: EventError, Error: &se})
		}

		p := Progress{
			StageIndex:      i + 1,
			StageCount:      stageCount,
			PercentComplete: (i + 1) * 100 / stageCount,
			StageLabel:      stage.Label,
			ItemsFound:      len(res.Records),
		}
		o.emit(events, Event{Kind: EventProgress, Progress: &p})
		o.log.Debugw("discovery stage complete",
			"stage", stage.Label, "percent", p.PercentComplete, "items", p.ItemsFound)
	}

	o.finish(ctx, res)

	res.Elapsed = o.now().Sub(started)
	summary := Summary{
		TotalFound:  len(res.Records),
		ViralCount:  len(res.Candidates),
		TrendCount:  len(res.Analysis.Trends),
		ErrorCount:  len(res.Errors),
		Persisted:   res.Persisted,
		Elapsed:     res.Elapsed,
		CompletedAt: o.now(),
	}
	o.emitSummary(events, Event{Kind: EventSummary, Summary: &summary})
	o.log.Infow("discovery pass complete",
		"found", summary.TotalFound,
		"viral", summary.ViralCount,
		"trends", summary.TrendCount,
		"errors", summary.ErrorCount,
		"elapsed", summary.Elapsed)

	return res
}

// runStage fans out over the stage's sources with bounded concurrency,
// then folds the fetched records into the result set under the
// dedup seen-set. Scoring and aggregation stay on the coordinating
// goroutine; only the fetches run concurrently.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, seen map[string]struct{}, res *Result) []StageError {
	type fetchOut struct {
		src     StageSource
		records []snapshot.RawRecord
		err     error
	}

	// Each goroutine owns one slot, so the joins need no locking.
	outs := make([]fetchOut, len(stage.Sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxAdaptersInFlight)
	for idx, src := range stage.Sources {
		idx, src := idx, src
		g.Go(func() error {
			adapter, ok := o.adapters[src.Platform]
			if !ok {
				outs[idx] = fetchOut{src: src, err: errAdapterMissing(src.Platform)}
				return nil
			}
			records, err := adapter.FetchRecent(gctx, src.Ref, stage.MaxPerSource)
			outs[idx] = fetchOut{src: src, records: records, err: err}
			// Fetch errors are isolated per source, never group-fatal.
			return nil
		})
	}
	_ = g.Wait()

	var errsOut []StageError
	for _, out := range outs {
		if out.err != nil {
			errsOut = append(errsOut, StageError{Stage: stage.Label + " / " + out.src.Ref, Err: out.err})
			continue
		}
		for _, raw := range out.records {
			o.fold(ctx, raw, out.src.Platform, stage.Label, seen, res)
		}
	}
	return errsOut
}

// fold deduplicates one raw record and, when new, enriches it with
// velocity and viral score and appends it to the result set.
func (o *Orchestrator) fold(ctx context.Context, raw snapshot.RawRecord, platform snapshot.Platform, category string, seen map[string]struct{}, res *Result) {
	key := snapshot.CanonicalURL(raw.URL)
	if key == "" {
		return
	}
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	observedAt := o.now()
	if o.cfg.MaxAge > 0 && !raw.PublishedAt.IsZero() && observedAt.Sub(raw.PublishedAt) > o.cfg.MaxAge {
		return
	}

	snap := snapshot.NewFromRaw(raw, platform, observedAt)
	snap.Category = category

	vel := o.velocityFor(ctx, snap)
	viewsPerHour := vel.ViewsPerHour
	if !vel.Sufficient() {
		// First sighting: estimate velocity from age. An unknown
		// publish time counts as a week old.
		ageHours := 168.0
		if !snap.PublishedAt.IsZero() {
			if h := observedAt.Sub(snap.PublishedAt).Hours(); h > 1 {
				ageHours = h
			} else {
				ageHours = 1
			}
		}
		viewsPerHour = float64(snap.Views) / ageHours
	}

	bench := snapshot.BenchmarkFor(o.cfg.Benchmarks, snap.Platform)
	snap.ViralScore, snap.Tier = snapshot.Score(snapshot.ScoreInput{
		Views:          snap.Views,
		EngagementRate: snap.EngagementRate,
		ViewsPerHour:   viewsPerHour,
		FollowerCount:  snap.FollowerCount,
		PublishedAt:    snap.PublishedAt,
		ObservedAt:     observedAt,
	}, bench)

	res.Records = append(res.Records, snap)
	res.Analysis.TotalAnalyzed = len(res.Records)
	res.analysisItems = append(res.analysisItems, trend.Item{Snapshot: snap, Velocity: velWithEstimate(vel, viewsPerHour)})
}

// velocityFor computes measured velocity from stored history, or the
// insufficient-history state when the item is new. A read failure
// degrades to no history.
func (o *Orchestrator) velocityFor(ctx context.Context, snap snapshot.VideoSnapshot) snapshot.Velocity {
	history, err := o.store.History(ctx, snap.ContentID, o.cfg.HistoryDepth)
	if err != nil {
		o.log.Warnw("history read failed, scoring without velocity", "content_id", snap.ContentID, "err", err)
		return snapshot.ComputeVelocity(nil, o.cfg.VelocityFloorHours)
	}
	// History arrives newest first; velocity wants oldest first, with
	// the fresh observation at the end.
	ordered := make([]snapshot.VideoSnapshot, 0, len(history)+1)
	for i := len(history) - 1; i >= 0; i-- {
		ordered = append(ordered, history[i])
	}
	ordered = append(ordered, snap)
	return snapshot.ComputeVelocity(ordered, o.cfg.VelocityFloorHours)
}

func velWithEstimate(vel snapshot.Velocity, viewsPerHour float64) snapshot.Velocity {
	if !vel.Sufficient() {
		vel.ViewsPerHour = viewsPerHour
	}
	return vel
}

// finish ranks and partitions the accumulated set, runs one clustering
// pass, and persists snapshots and trends. Store failures are logged
// and recorded; the in-memory result survives them.
func (o *Orchestrator) finish(ctx context.Context, res *Result) {
	sort.SliceStable(res.Records, func(i, j int) bool {
		return res.Records[i].ViralScore > res.Records[j].ViralScore
	})

	for _, r := range res.Records {
		if r.IsShortForm() {
			res.ShortForm = append(res.ShortForm, r)
		} else {
			res.LongForm = append(res.LongForm, r)
		}
		if r.Tier == snapshot.TierViral || r.Tier == snapshot.TierHigh {
			if o.cfg.CandidateLimit <= 0 || len(res.Candidates) < o.cfg.CandidateLimit {
				res.Candidates = append(res.Candidates, r)
			}
		}
	}

	if o.clusterer != nil {
		res.Analysis = o.clusterer.Analyze(res.analysisItems, o.now())
	}

	// A cancelled run still persists everything accumulated up to the
	// last completed stage, so the writes must not inherit the run's
	// cancellation.
	ctx = context.WithoutCancel(ctx)

	for _, snap := range res.Records {
		if err := o.store.Record(ctx, snap); err != nil {
			o.log.Errorw("snapshot persist failed", "content_id", snap.ContentID, "err", err)
			res.Errors = append(res.Errors, StageError{Stage: "persist", Err: err})
			continue
		}
		res.Persisted++
	}
	if o.trends != nil {
		for _, t := range res.Analysis.Trends {
			if err := o.trends.RecordTrend(ctx, t); err != nil {
				o.log.Errorw("trend persist failed", "key", t.Key, "err", err)
				res.Errors = append(res.Errors, StageError{Stage: "persist trends", Err: err})
			}
		}
	}
}

// emit pushes an event without blocking. With no consumer attached the
// event is dropped, never stalling the pass.
func (o *Orchestrator) emit(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	default:
	}
}

// summarySendWait bounds how long the terminal summary send waits on a
// slow consumer.
const summarySendWait = time.Second

// emitSummary delivers the terminal event. Progress and error events
// are best-effort, but a consumer that keeps draining always sees the
// run end in exactly one summary, even if its buffer was momentarily
// full.
func (o *Orchestrator) emitSummary(events chan<- Event, e Event) {
	if events == nil {
		return
	}
	select {
	case events <- e:
	case <-time.After(summarySendWait):
	}
}

type errAdapterMissing snapshot.Platform

func (e errAdapterMissing) Error() string {
	return "no adapter configured for platform " + string(e)
}
