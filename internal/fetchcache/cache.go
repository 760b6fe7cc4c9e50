// Package fetchcache drives incremental fetching of one collector's series:
// plan cells, decide completeness, fetch or load, reconcile, persist rows,
// update coverage, and stream the assembled result.
package fetchcache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/keywatch/internal/clock"
	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/completeness"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/coverage"
	"github.com/newthinker/keywatch/internal/planner"
	"github.com/newthinker/keywatch/internal/reconcile"
	"github.com/newthinker/keywatch/internal/storage/sample"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Settings tune one collector's cache.
type Settings struct {
	// SampleInterval is the grid cell size.
	SampleInterval time.Duration
	// OverlapInterval is the lead margin requested before each cell; zero
	// disables reconciliation.
	OverlapInterval time.Duration
	// MinRequestInterval is the minimum spacing between source requests.
	MinRequestInterval time.Duration
	// Cooldown is the wait before re-issuing a rate-limited cell.
	Cooldown time.Duration
	// MaxRetries bounds re-issues of one cell.
	MaxRetries int
}

// DefaultSettings returns daily cells with a one minute cooldown.
func DefaultSettings() Settings {
	return Settings{
		SampleInterval: 24 * time.Hour,
		Cooldown:       60 * time.Second,
		MaxRetries:     5,
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.SampleInterval <= 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sample_interval must be positive, got %s", s.SampleInterval))
	}
	if s.OverlapInterval < 0 || s.MinRequestInterval < 0 || s.Cooldown < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("overlap_interval, min_request_interval and cooldown cannot be negative"))
	}
	if s.MaxRetries < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries))
	}
	return nil
}

// Recorder receives cache metrics.
type Recorder interface {
	RecordCell(collector, outcome string)
	RecordFetch(collector, status string, seconds float64)
	RecordRetry(collector string)
	RecordRowsWritten(collector string, n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordCell(string, string)           {}
func (nopRecorder) RecordFetch(string, string, float64) {}
func (nopRecorder) RecordRetry(string)                  {}
func (nopRecorder) RecordRowsWritten(string, int)       {}

// Option configures a Cache.
type Option func(*Cache)

// WithClock injects the clock.
func WithClock(c clock.Clock) Option { return func(fc *Cache) { fc.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(fc *Cache) { fc.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option { return func(fc *Cache) { fc.metrics = r } }

// WithLocks shares a lock table between caches over the same store.
func WithLocks(l *KeyLocks) Option { return func(fc *Cache) { fc.locks = l } }

// Cache is the fetch orchestrator for one collector.
type Cache struct {
	collector  collector.Collector
	store      sample.Store
	settings   Settings
	planner    *planner.Planner
	oracle     *completeness.Oracle
	reconciler *reconcile.Reconciler
	limiter    *rate.Limiter

	clock   clock.Clock
	logger  *zap.Logger
	metrics Recorder
	locks   *KeyLocks
}

// New creates a cache around c persisting into store.
func New(c collector.Collector, store sample.Store, settings Settings, opts ...Option) (*Cache, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	p, err := planner.New(settings.SampleInterval, settings.OverlapInterval)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if settings.MinRequestInterval > 0 {
		limit = rate.Every(settings.MinRequestInterval)
	}

	fc := &Cache{
		collector: c,
		store:     store,
		settings:  settings,
		planner:   p,
		oracle:    completeness.New(settings.SampleInterval),
		limiter:   rate.NewLimiter(limit, 1),
		clock:     clock.Real{},
		metrics:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(fc)
	}
	if fc.logger == nil {
		fc.logger = zap.NewNop()
	}
	if fc.locks == nil {
		fc.locks = NewKeyLocks()
	}
	fc.logger = fc.logger.With(zap.String("collector", c.Name()))
	fc.reconciler = reconcile.New(fc.logger)
	return fc, nil
}

// Name returns the collector name.
func (c *Cache) Name() string { return c.collector.Name() }

// Settings returns the cache settings.
func (c *Cache) Settings() Settings { return c.settings }

func (c *Cache) coverageKey(keyword string) core.CoverageKey {
	return core.CoverageKey{Collector: c.collector.Name(), Keyword: keyword, Grid: c.settings.SampleInterval}
}

// Coverage loads the current coverage for keyword.
func (c *Cache) Coverage(ctx context.Context, keyword string) (*coverage.Set, error) {
	ivs, err := c.store.LoadCoverage(ctx, c.coverageKey(core.NormalizeKeyword(keyword)))
	if err != nil {
		return nil, storeError("load coverage", err)
	}
	return coverage.New(ivs...), nil
}

// Query streams the rows of keyword in [start, end) in time order, fetching
// only what the cache cannot serve. Cells are processed strictly in order;
// each cell's persistence and coverage update is the unit of progress, so
// cancelling ctx or stopping iteration between cells leaves state consistent.
// Every call re-plans from the coverage stored at that moment.
func (c *Cache) Query(ctx context.Context, keyword string, start, end time.Time) iter.Seq2[core.SampleRow, error] {
	return func(yield func(core.SampleRow, error) bool) {
		keyword := core.NormalizeKeyword(keyword)
		if keyword == "" {
			yield(core.SampleRow{}, core.WrapError(core.ErrConfigMissing, errors.New("keyword is empty")))
			return
		}

		stop := end
		if now := c.clock.Now(); stop.After(now) {
			stop = now
		}
		requested, err := core.NewInterval(start, stop)
		if err != nil {
			yield(core.SampleRow{}, core.WrapError(core.ErrConfigInvalid, err))
			return
		}

		runID := uuid.NewString()
		log := c.logger.With(zap.String("keyword", keyword), zap.String("run_id", runID))
		cells := c.planner.Plan(requested.Start, requested.End)
		log.Debug("planned query",
			zap.Time("start", requested.Start),
			zap.Time("end", requested.End),
			zap.Int("cells", len(cells)),
		)

		previous, err := c.seedPrevious(ctx, keyword, cells)
		if err != nil {
			yield(core.SampleRow{}, err)
			return
		}

		for _, cell := range cells {
			if err := ctx.Err(); err != nil {
				yield(core.SampleRow{}, err)
				return
			}

			cell = planner.ClampEnd(cell, requested.End)
			cell = c.planner.TrimAgainstNow(cell, c.clock.Now())

			rows, err := c.processCell(ctx, log, keyword, cell, previous)
			if err != nil {
				yield(core.SampleRow{}, fmt.Errorf("cell %s: %w", cell, err))
				return
			}
			if len(rows) > 0 {
				previous = rows
			}

			for _, row := range rows {
				if !requested.Contains(row.Time) {
					continue
				}
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// Collect drains Query into a slice.
func (c *Cache) Collect(ctx context.Context, keyword string, start, end time.Time) ([]core.SampleRow, error) {
	var out []core.SampleRow
	for row, err := range c.Query(ctx, keyword, start, end) {
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
	return out, nil
}

// seedPrevious loads the cached rows just before the first cell so the first
// fetched window reconciles against already-stored data.
func (c *Cache) seedPrevious(ctx context.Context, keyword string, cells []core.TimeInterval) ([]core.SampleRow, error) {
	if c.settings.OverlapInterval == 0 || len(cells) == 0 {
		return nil, nil
	}
	first := cells[0].Start
	rows, err := c.store.Load(ctx, core.SeriesKey{Collector: c.collector.Name(), Keyword: keyword},
		core.TimeInterval{Start: first.Add(-c.settings.OverlapInterval), End: first})
	if err != nil {
		return nil, storeError("load overlap seed", err)
	}
	return rows, nil
}

// processCell runs one cell under its coverage lock and returns the cell's
// rows, from cache or freshly fetched and persisted.
func (c *Cache) processCell(ctx context.Context, log *zap.Logger, keyword string, cell core.TimeInterval, previous []core.SampleRow) ([]core.SampleRow, error) {
	name := c.collector.Name()
	if cell.IsEmpty() {
		c.metrics.RecordCell(name, completeness.Satisfied.String())
		return nil, nil
	}

	covKey := c.coverageKey(keyword)
	series := covKey.Series()

	unlock := c.locks.Lock(covKey)
	defer unlock()

	ivs, err := c.store.LoadCoverage(ctx, covKey)
	if err != nil {
		return nil, storeError("load coverage", err)
	}
	set := coverage.New(ivs...)

	cached, err := c.store.Load(ctx, series, cell)
	if err != nil {
		return nil, storeError("load rows", err)
	}

	outcome := c.oracle.Decide(cell, set, cached, c.clock.Now())
	c.metrics.RecordCell(name, outcome.String())
	cellLog := log.With(zap.Time("start", cell.Start), zap.Time("end", cell.End), zap.Stringer("outcome", outcome))

	if outcome.Cached() {
		cellLog.Debug("loading from cache", zap.Int("rows", len(cached)))
		return cached, nil
	}

	// Partial rows are rewritten across the whole cell; otherwise only the
	// uncovered remainder is fetched.
	fetchIv := cell
	if !completeness.HasPartial(cached) {
		if trimmed, ok := c.planner.TrimAgainstCoverage(cell, set); ok {
			fetchIv = trimmed
		}
	}

	window := c.planner.Window(fetchIv)
	cellLog.Info("downloading", zap.Time("fetch_start", window.Request().Start), zap.Time("fetch_end", fetchIv.End))

	fetched, err := c.fetch(ctx, window.Request(), keyword)
	if err != nil {
		cellLog.Error("download failed", zap.Error(err))
		return nil, err
	}
	fetched = within(fetched, window.Request())
	for i := range fetched {
		fetched[i].Keyword = keyword
	}

	if c.settings.OverlapInterval > 0 {
		prior := append(append([]core.SampleRow{}, previous...), before(cached, fetchIv.Start)...)
		res := c.reconciler.Reconcile(prior, fetched, window.OverlapRegion())
		fetched = res.Rows
		if res.Applied {
			cellLog.Debug("reconciled overlap", zap.Float64("scale", res.Scale), zap.Int("common", res.Common))
		}
	}
	fetched = within(fetched, fetchIv)

	if err := c.store.Delete(ctx, series, fetchIv); err != nil {
		return nil, storeError("delete stale rows", err)
	}
	if err := c.store.Append(ctx, series, fetched); err != nil {
		return nil, storeError("append rows", err)
	}
	c.metrics.RecordRowsWritten(name, len(fetched))

	set.MergeInsert(fetchIv)
	if err := c.store.ReplaceCoverage(ctx, covKey, set.Intervals()); err != nil {
		return nil, storeError("replace coverage", err)
	}

	rows := make([]core.SampleRow, 0, len(cached)+len(fetched))
	for _, row := range cached {
		if !fetchIv.Contains(row.Time) {
			rows = append(rows, row)
		}
	}
	rows = append(rows, fetched...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.Before(rows[j].Time) })

	cellLog.Debug("cached interval", zap.Int("rows", len(fetched)))
	return rows, nil
}

func within(rows []core.SampleRow, iv core.TimeInterval) []core.SampleRow {
	out := make([]core.SampleRow, 0, len(rows))
	for _, row := range rows {
		if iv.Contains(row.Time) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func before(rows []core.SampleRow, t time.Time) []core.SampleRow {
	var out []core.SampleRow
	for _, row := range rows {
		if row.Time.Before(t) {
			out = append(out, row)
		}
	}
	return out
}

func storeError(op string, err error) error {
	if errors.Is(err, core.ErrStoreFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return core.WrapError(core.ErrStoreFailed, fmt.Errorf("%s: %w", op, err))
}
