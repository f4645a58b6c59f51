// Package tap orchestrates a sync run: it drives every selected top-level
// resource, fans child resources out per parent record and commits
// bookmarks once a resource and all of its children completed.
package tap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/tap-messagebird/pkg/state"
	"github.com/Sternrassler/tap-messagebird/pkg/stream"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tap_sync_runs_total",
	Help: "Sync runs by outcome",
}, []string{"status"})

// Sink receives records and state.
type Sink interface {
	WriteRecord(rec stream.Record) error
	WriteState(bookmarks map[string]state.Bookmark) error
}

// SchemaWriter is implemented by sinks that announce streams before records.
type SchemaWriter interface {
	WriteSchema(streamName string, keyProperties, bookmarkProperties []string) error
}

// Config configures a Tap.
type Config struct {
	// Streams are the selected descriptors. Children must come with their parent.
	Streams []stream.Descriptor

	// ChildWorkers bounds concurrent child runs per parent resource.
	ChildWorkers int

	Propagator stream.Propagator
}

// Tap runs syncs.
type Tap struct {
	fetcher stream.PageFetcher
	state   *state.Manager
	sink    *lockedSink
	config  Config
	logger  zerolog.Logger

	// guards child StreamSummary counters
	summaryMu sync.Mutex
}

// New validates the stream selection.
func New(fetcher stream.PageFetcher, manager *state.Manager, sink Sink, cfg Config) (*Tap, error) {
	if fetcher == nil || manager == nil || sink == nil {
		return nil, errors.New("fetcher, state manager and sink are required")
	}
	if len(cfg.Streams) == 0 {
		return nil, errors.New("no streams selected")
	}
	if cfg.ChildWorkers <= 0 {
		cfg.ChildWorkers = 4
	}
	if cfg.Propagator.IDField == "" {
		cfg.Propagator = stream.DefaultPropagator()
	}

	names := make(map[string]bool, len(cfg.Streams))
	for _, d := range cfg.Streams {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if names[d.Name] {
			return nil, fmt.Errorf("stream %q selected twice", d.Name)
		}
		names[d.Name] = true
	}
	for _, d := range cfg.Streams {
		if d.IsChild() && !names[d.Parent] {
			return nil, fmt.Errorf("stream %q requires its parent stream %q", d.Name, d.Parent)
		}
	}

	return &Tap{
		fetcher: fetcher,
		state:   manager,
		sink:    &lockedSink{sink: sink},
		config:  cfg,
		logger:  log.With().Str("component", "tap").Logger(),
	}, nil
}

// StreamSummary reports one stream's run.
type StreamSummary struct {
	Records         int64
	Pages           int64
	ChildRuns       int64
	SkippedParents  int64
	EarlyStopped    bool
	BookmarkChanged bool
}

// Summary reports a sync run.
type Summary struct {
	RunID    string
	Duration time.Duration
	Streams  map[string]*StreamSummary
}

// Run syncs every selected top-level resource in order. It stops at the
// first failing resource; bookmarks of resources completed before it stay
// committed.
func (t *Tap) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:   uuid.NewString(),
		Streams: make(map[string]*StreamSummary),
	}
	for _, d := range t.config.Streams {
		summary.Streams[d.Name] = &StreamSummary{}
	}

	logger := t.logger.With().Str("run_id", summary.RunID).Logger()
	logger.Info().Int("streams", len(t.config.Streams)).Msg("Sync started")

	if err := t.writeSchemas(); err != nil {
		syncRuns.WithLabelValues("failure").Inc()
		return summary, err
	}

	for _, desc := range t.config.Streams {
		if desc.IsChild() {
			continue
		}
		if err := t.syncResource(ctx, desc, summary, logger); err != nil {
			summary.Duration = time.Since(start)
			syncRuns.WithLabelValues("failure").Inc()
			logger.Error().
				Err(err).
				Str("stream", desc.Name).
				Dur("duration", summary.Duration).
				Msg("Sync failed")
			return summary, err
		}
	}

	summary.Duration = time.Since(start)
	syncRuns.WithLabelValues("success").Inc()
	logger.Info().Dur("duration", summary.Duration).Msg("Sync complete")
	return summary, nil
}

func (t *Tap) children(parent string) []stream.Descriptor {
	var out []stream.Descriptor
	for _, d := range t.config.Streams {
		if d.Parent == parent {
			out = append(out, d)
		}
	}
	return out
}

func (t *Tap) syncResource(ctx context.Context, desc stream.Descriptor, summary *Summary, logger zerolog.Logger) error {
	logger = logger.With().Str("stream", desc.Name).Logger()

	bookmark, err := t.state.Bookmark(ctx, desc.Name)
	if err != nil {
		return err
	}
	sctx := stream.SyncContext{Bookmark: bookmark}

	children := t.children(desc.Name)
	childMarks := make(map[string]*state.Watermark, len(children))
	for _, c := range children {
		childMarks[c.Name] = state.NewWatermark(c.ReplicationKey)
	}

	pool := newChildPool(ctx, t.config.ChildWorkers, func(ctx context.Context, job childJob) error {
		return t.runChild(ctx, job, summary.Streams[job.desc.Name], logger)
	}, logger)

	driver, err := stream.NewDriver(desc, sctx, t.fetcher, stream.WithLogger(logger))
	if err != nil {
		pool.Wait()
		return err
	}

	parentMark := state.NewWatermark(desc.ReplicationKey)
	parentSummary := summary.Streams[desc.Name]

	logEvent := logger.Info()
	if bookmark != nil {
		logEvent = logEvent.Time("bookmark", *bookmark)
	}
	logEvent.Msg("Stream sync started")

records:
	for rec, err := range driver.Records(pool.Context()) {
		if err != nil {
			pool.Fail(err)
			break
		}
		if err := t.sink.WriteRecord(rec); err != nil {
			pool.Fail(fmt.Errorf("write %s record: %w", desc.Name, err))
			break
		}
		parentMark.Observe(rec.Data)

		for _, child := range children {
			cctx, ok := t.config.Propagator.ChildContext(rec, sctx)
			if !ok {
				parentSummary.SkippedParents++
				continue
			}
			if err := pool.Submit(childJob{desc: child, sctx: cctx, mark: childMarks[child.Name]}); err != nil {
				break records
			}
		}
	}

	stats := driver.Stats()
	parentSummary.Records = int64(stats.Records)
	parentSummary.Pages = int64(stats.Pages)
	parentSummary.EarlyStopped = stats.EarlyStopped

	if err := pool.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// everything completed; bookmarks may move
	changed, err := t.commit(ctx, desc, parentMark)
	if err != nil {
		return err
	}
	parentSummary.BookmarkChanged = changed
	for _, c := range children {
		changed, err := t.commit(ctx, c, childMarks[c.Name])
		if err != nil {
			return err
		}
		summary.Streams[c.Name].BookmarkChanged = changed
	}

	snapshot, err := t.state.Snapshot(ctx)
	if err != nil {
		return err
	}
	if err := t.sink.WriteState(snapshot); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	logger.Info().
		Int("pages", stats.Pages).
		Int("records", stats.Records).
		Int64("child_runs", pool.completed.Load()).
		Msg("Stream sync complete")
	return nil
}

func (t *Tap) runChild(ctx context.Context, job childJob, sum *StreamSummary, logger zerolog.Logger) error {
	driver, err := stream.NewDriver(job.desc, job.sctx, t.fetcher, stream.WithLogger(logger))
	if err != nil {
		return err
	}

	for rec, err := range driver.Records(ctx) {
		if err != nil {
			return err
		}
		if err := t.sink.WriteRecord(rec); err != nil {
			return fmt.Errorf("write %s record: %w", job.desc.Name, err)
		}
		job.mark.Observe(rec.Data)
	}

	stats := driver.Stats()
	t.summaryMu.Lock()
	sum.ChildRuns++
	sum.Records += int64(stats.Records)
	sum.Pages += int64(stats.Pages)
	t.summaryMu.Unlock()
	return nil
}

func (t *Tap) commit(ctx context.Context, desc stream.Descriptor, mark *state.Watermark) (bool, error) {
	if desc.ReplicationKey == "" {
		return false, nil
	}
	maxSeen, ok := mark.Max()
	if !ok {
		return false, nil
	}
	return t.state.Commit(ctx, desc.Name, desc.ReplicationKey, maxSeen)
}

func (t *Tap) writeSchemas() error {
	sw, ok := t.sink.sink.(SchemaWriter)
	if !ok {
		return nil
	}
	for _, d := range t.config.Streams {
		var bookmarks []string
		if d.ReplicationKey != "" {
			bookmarks = []string{d.ReplicationKey}
		}
		if err := sw.WriteSchema(d.Name, d.PrimaryKeys, bookmarks); err != nil {
			return fmt.Errorf("write %s schema: %w", d.Name, err)
		}
	}
	return nil
}

// lockedSink serialises access to a sink shared by concurrent child runs.
type lockedSink struct {
	mu   sync.Mutex
	sink Sink
}

func (s *lockedSink) WriteRecord(rec stream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.WriteRecord(rec)
}

func (s *lockedSink) WriteState(bookmarks map[string]state.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.WriteState(bookmarks)
}
