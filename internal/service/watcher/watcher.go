// internal/service/watcher/watcher.go

package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"trendspy/internal/domain/snapshot"
	"trendspy/internal/domain/trend"
	"trendspy/internal/pkg/errs"
	"trendspy/internal/service/discovery"
)

// Config contains configuration for the watcher.
type Config struct {
	DiscoveryInterval time.Duration
	MonitorInterval   time.Duration
	AnalyzeInterval   time.Duration
	// EventsTopic is the NATS subject prefix for published events and
	// manual trigger subscriptions.
	EventsTopic string
	// RetentionHorizon is how long an item may go unobserved before the
	// analyze pass archives it.
	RetentionHorizon time.Duration
	// RateLimitCoolDown is how long a source sits out after the
	// platform rate-limits it.
	RateLimitCoolDown time.Duration
	// MonitorMaxPerSource caps records fetched per source on a monitor
	// pass.
	MonitorMaxPerSource int
}

// DefaultConfig mirrors the stock watch cadence.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:   4 * time.Hour,
		MonitorInterval:     2 * time.Hour,
		AnalyzeInterval:     6 * time.Hour,
		EventsTopic:         "trendspy",
		RetentionHorizon:    7 * 24 * time.Hour,
		RateLimitCoolDown:   30 * time.Minute,
		MonitorMaxPerSource: 10,
	}
}

// SourceStore manages the watch-list entries the monitor pass
// re-observes. Adds and removes arrive as operator actions over the
// event bus.
type SourceStore interface {
	Active(ctx context.Context) ([]snapshot.WatchSource, error)
	Add(ctx context.Context, src snapshot.WatchSource) error
	Deactivate(ctx context.Context, platform snapshot.Platform, sourceRef string) error
}

// SnapshotStore is the persistence slice the monitor and analyze passes
// need.
type SnapshotStore interface {
	Record(ctx context.Context, snap snapshot.VideoSnapshot) error
	History(ctx context.Context, contentID string, limit int) ([]snapshot.VideoSnapshot, error)
	LatestPerItem(ctx context.Context) ([]snapshot.VideoSnapshot, error)
	ArchiveStale(ctx context.Context, horizon time.Duration) (int64, error)
}

// TrendStore persists trends detected by the analyze pass.
type TrendStore interface {
	RecordTrend(ctx context.Context, t trend.DetectedTrend) error
}

// Watcher runs the three recurring passes on independent cadences:
// discovery finds new content, monitor re-observes the watch list, and
// analyze clusters the tracked set into trends. Each pass can also be
// triggered manually, directly or over the event bus.
type Watcher struct {
	orchestrator *discovery.Orchestrator
	sources      SourceStore
	snapshots    SnapshotStore
	trends       TrendStore
	clusterer    *trend.Clusterer
	adapters     map[snapshot.Platform]discovery.SourceAdapter
	eventBus     *nats.Conn
	config       Config
	log          *zap.SugaredLogger

	// one mutex per job: a tick that lands while the previous run of
	// the same job is still going is skipped, never queued.
	discoveryRun sync.Mutex
	monitorRun   sync.Mutex
	analyzeRun   sync.Mutex

	// coolDown holds per-source timestamps before which a rate-limited
	// source is not fetched again.
	coolMu   sync.Mutex
	coolDown map[string]time.Time

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New creates a watcher. eventBus may be nil; triggers then work only
// through the direct Run* methods and no events are published.
func New(
	orchestrator *discovery.Orchestrator,
	adapters []discovery.SourceAdapter,
	sources SourceStore,
	snapshots SnapshotStore,
	trends TrendStore,
	clusterer *trend.Clusterer,
	eventBus *nats.Conn,
	config Config,
	log *zap.SugaredLogger,
) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())

	byPlatform := make(map[snapshot.Platform]discovery.SourceAdapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}

	return &Watcher{
		orchestrator: orchestrator,
		sources:      sources,
		snapshots:    snapshots,
		trends:       trends,
		clusterer:    clusterer,
		adapters:     byPlatform,
		eventBus:     eventBus,
		config:       config,
		log:          log,
		coolDown:     make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}
}

// Start launches the recurring passes and subscribes to the manual
// trigger subjects.
func (w *Watcher) Start() error {
	if err := w.subscribeTriggers(); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop("discovery", w.config.DiscoveryInterval, w.RunDiscovery)

	w.wg.Add(1)
	go w.loop("monitor", w.config.MonitorInterval, w.RunMonitor)

	w.wg.Add(1)
	go w.loop("analyze", w.config.AnalyzeInterval, w.RunAnalyze)

	w.log.Infow("watcher started",
		"discovery_every", w.config.DiscoveryInterval,
		"monitor_every", w.config.MonitorInterval,
		"analyze_every", w.config.AnalyzeInterval)
	return nil
}

// loop runs fn on each tick until the watcher stops.
func (w *Watcher) loop(name string, interval time.Duration, fn func(context.Context) error) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := fn(w.ctx); err != nil && !errors.Is(err, errSkipped) {
				w.log.Errorw("scheduled pass failed", "job", name, "err", err)
			}
		}
	}
}

// errSkipped marks a tick dropped because the previous run of the same
// job was still in progress.
var errSkipped = errors.New("previous run still in progress, tick skipped")

// RunDiscovery executes one discovery pass now. Concurrent calls do not
// stack: if a discovery pass is already running the call is a no-op.
func (w *Watcher) RunDiscovery(ctx context.Context) error {
	if !w.discoveryRun.TryLock() {
		w.log.Infow("discovery tick skipped, previous pass still running")
		return errSkipped
	}
	defer w.discoveryRun.Unlock()

	res := w.orchestrator.Run(ctx, nil)

	for _, t := range res.Analysis.Trends {
		w.publishTrend(t)
	}
	w.publishSummary("discovery", map[string]any{
		"found":     len(res.Records),
		"viral":     len(res.Candidates),
		"trends":    len(res.Analysis.Trends),
		"errors":    len(res.Errors),
		"persisted": res.Persisted,
		"elapsed":   res.Elapsed.String(),
	})
	return nil
}

// RunMonitor re-observes every active watch source, recording a fresh
// snapshot per item so the velocity history grows. Sources sit out
// their cool-down after a rate limit; other fetch failures skip the
// source for this pass only.
func (w *Watcher) RunMonitor(ctx context.Context) error {
	if !w.monitorRun.TryLock() {
		w.log.Infow("monitor tick skipped, previous pass still running")
		return errSkipped
	}
	defer w.monitorRun.Unlock()

	active, err := w.sources.Active(ctx)
	if err != nil {
		return fmt.Errorf("loading watch sources: %w", err)
	}

	var observed, skipped, failures int
	for _, src := range active {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.coolingDown(src) {
			skipped++
			continue
		}

		adapter, ok := w.adapters[src.Platform]
		if !ok {
			w.log.Warnw("no adapter for watch source", "platform", src.Platform, "ref", src.SourceRef)
			continue
		}

		records, err := adapter.FetchRecent(ctx, src.SourceRef, w.config.MonitorMaxPerSource)
		if err != nil {
			failures++
			if errors.Is(err, errs.ErrRateLimited) {
				w.startCoolDown(src)
				w.log.Warnw("source rate limited, cooling down",
					"ref", src.SourceRef, "until", w.config.RateLimitCoolDown)
				continue
			}
			w.log.Warnw("watch source fetch failed", "ref", src.SourceRef, "err", err)
			continue
		}

		observedAt := w.now()
		for _, raw := range records {
			snap := snapshot.NewFromRaw(raw, src.Platform, observedAt)
			if snap.ContentID == "" {
				continue
			}
			if err := w.snapshots.Record(ctx, snap); err != nil {
				w.log.Errorw("snapshot persist failed", "content_id", snap.ContentID, "err", err)
				failures++
				continue
			}
			observed++
		}
	}

	w.log.Infow("monitor pass complete",
		"sources", len(active), "observed", observed, "cooling_down", skipped, "failures", failures)
	w.publishSummary("monitor", map[string]any{
		"sources":  len(active),
		"observed": observed,
		"failures": failures,
	})
	return nil
}

// RunAnalyze clusters the currently tracked set into trends, persists
// and publishes them, then archives items unobserved past the
// retention horizon.
func (w *Watcher) RunAnalyze(ctx context.Context) error {
	if !w.analyzeRun.TryLock() {
		w.log.Infow("analyze tick skipped, previous pass still running")
		return errSkipped
	}
	defer w.analyzeRun.Unlock()

	latest, err := w.snapshots.LatestPerItem(ctx)
	if err != nil {
		return fmt.Errorf("loading tracked items: %w", err)
	}

	items := make([]trend.Item, 0, len(latest))
	for _, snap := range latest {
		if err := ctx.Err(); err != nil {
			return err
		}
		history, err := w.snapshots.History(ctx, snap.ContentID, 3)
		if err != nil {
			w.log.Warnw("history read failed", "content_id", snap.ContentID, "err", err)
			continue
		}
		// History arrives newest first; velocity wants it ascending.
		ordered := make([]snapshot.VideoSnapshot, 0, len(history))
		for i := len(history) - 1; i >= 0; i-- {
			ordered = append(ordered, history[i])
		}
		items = append(items, trend.Item{
			Snapshot: snap,
			Velocity: snapshot.ComputeVelocity(ordered, snapshot.DefaultHoursFloor),
		})
	}

	analysis := w.clusterer.Analyze(items, w.now())

	for _, t := range analysis.Trends {
		if err := w.trends.RecordTrend(ctx, t); err != nil {
			w.log.Errorw("trend persist failed", "key", t.Key, "err", err)
			continue
		}
		w.publishTrend(t)
	}

	if w.config.RetentionHorizon > 0 {
		archived, err := w.snapshots.ArchiveStale(ctx, w.config.RetentionHorizon)
		if err != nil {
			w.log.Errorw("retention pass failed", "err", err)
		} else if archived > 0 {
			w.log.Infow("archived stale items", "count", archived)
		}
	}

	w.log.Infow("analyze pass complete",
		"analyzed", analysis.TotalAnalyzed,
		"trends", len(analysis.Trends),
		"rising", len(analysis.Rising),
		"gems", len(analysis.SmallAccountGems))
	w.log.Debugf("trend report:\n%s", trend.RenderReport(analysis))

	w.publishSummary("analyze", map[string]any{
		"analyzed": analysis.TotalAnalyzed,
		"trends":   len(analysis.Trends),
		"rising":   len(analysis.Rising),
	})
	return nil
}

// coolingDown reports whether the source is still inside its rate-limit
// cool-down window.
func (w *Watcher) coolingDown(src snapshot.WatchSource) bool {
	w.coolMu.Lock()
	defer w.coolMu.Unlock()
	until, ok := w.coolDown[coolKey(src)]
	if !ok {
		return false
	}
	if w.now().After(until) {
		delete(w.coolDown, coolKey(src))
		return false
	}
	return true
}

func (w *Watcher) startCoolDown(src snapshot.WatchSource) {
	w.coolMu.Lock()
	defer w.coolMu.Unlock()
	w.coolDown[coolKey(src)] = w.now().Add(w.config.RateLimitCoolDown)
}

func coolKey(src snapshot.WatchSource) string {
	return string(src.Platform) + "/" + src.SourceRef
}

// subscribeTriggers wires the manual trigger subjects on the event bus.
func (w *Watcher) subscribeTriggers() error {
	if w.eventBus == nil {
		return nil
	}

	triggers := map[string]func(context.Context) error{
		"discovery": w.RunDiscovery,
		"monitor":   w.RunMonitor,
		"analyze":   w.RunAnalyze,
	}
	for name, fn := range triggers {
		name, fn := name, fn
		subject := fmt.Sprintf("%s.trigger.%s", w.config.EventsTopic, name)
		sub, err := w.eventBus.Subscribe(subject, func(msg *nats.Msg) {
			w.log.Infow("manual trigger received", "job", name)
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				if err := fn(w.ctx); err != nil && !errors.Is(err, errSkipped) {
					w.log.Errorw("triggered pass failed", "job", name, "err", err)
				}
			}()
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}

	addSubject := fmt.Sprintf("%s.sources.add", w.config.EventsTopic)
	sub, err := w.eventBus.Subscribe(addSubject, w.handleSourceAdd)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", addSubject, err)
	}
	w.subs = append(w.subs, sub)

	removeSubject := fmt.Sprintf("%s.sources.remove", w.config.EventsTopic)
	sub, err = w.eventBus.Subscribe(removeSubject, w.handleSourceRemove)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", removeSubject, err)
	}
	w.subs = append(w.subs, sub)

	return nil
}

// sourceRequest is the operator payload for watch-list changes.
type sourceRequest struct {
	Ref         string `json:"ref"`
	DisplayName string `json:"display_name,omitempty"`
	Platform    string `json:"platform,omitempty"`
}

// handleSourceAdd registers a watch source. The platform is detected
// from the reference URL unless the payload names it explicitly.
func (w *Watcher) handleSourceAdd(msg *nats.Msg) {
	var req sourceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.log.Warnw("bad source add payload", "err", err)
		return
	}

	p := snapshot.Platform(req.Platform)
	if p == "" {
		p = snapshot.DetectPlatform(req.Ref)
	}
	if p == "" {
		w.log.Warnw("source ref matches no supported platform", "ref", req.Ref)
		return
	}

	src := snapshot.WatchSource{
		Platform:    p,
		SourceRef:   req.Ref,
		DisplayName: req.DisplayName,
		Active:      true,
		AddedAt:     w.now(),
	}
	if err := w.sources.Add(w.ctx, src); err != nil {
		w.log.Errorw("source add failed", "ref", req.Ref, "err", err)
		return
	}
	w.log.Infow("watch source added", "platform", p, "ref", req.Ref)
}

// handleSourceRemove soft-deactivates a watch source.
func (w *Watcher) handleSourceRemove(msg *nats.Msg) {
	var req sourceRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.log.Warnw("bad source remove payload", "err", err)
		return
	}

	p := snapshot.Platform(req.Platform)
	if p == "" {
		p = snapshot.DetectPlatform(req.Ref)
	}
	if err := w.sources.Deactivate(w.ctx, p, req.Ref); err != nil {
		w.log.Errorw("source deactivate failed", "ref", req.Ref, "err", err)
		return
	}
	w.log.Infow("watch source deactivated", "platform", p, "ref", req.Ref)
}

// publishTrend publishes a trend detected event.
func (w *Watcher) publishTrend(t trend.DetectedTrend) {
	if w.eventBus == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		w.log.Errorw("trend event marshal failed", "key", t.Key, "err", err)
		return
	}
	subject := fmt.Sprintf("%s.detected", w.config.EventsTopic)
	if err := w.eventBus.Publish(subject, data); err != nil {
		w.log.Errorw("trend event publish failed", "key", t.Key, "err", err)
	}
}

// publishSummary publishes a pass summary event.
func (w *Watcher) publishSummary(job string, fields map[string]any) {
	if w.eventBus == nil {
		return
	}
	fields["job"] = job
	data, err := json.Marshal(fields)
	if err != nil {
		w.log.Errorw("summary marshal failed", "job", job, "err", err)
		return
	}
	subject := fmt.Sprintf("%s.summary", w.config.EventsTopic)
	if err := w.eventBus.Publish(subject, data); err != nil {
		w.log.Errorw("summary publish failed", "job", job, "err", err)
	}
}

// Stop drains the trigger subscriptions, signals the pass goroutines
// and waits for in-flight work, bounded by ctx.
func (w *Watcher) Stop(ctx context.Context) error {
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			w.log.Warnw("unsubscribe failed", "subject", sub.Subject, "err", err)
		}
	}

	w.cancel()

	c := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
