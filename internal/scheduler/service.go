// Package scheduler periodically refreshes a watchlist of keywords through
// every enabled fetch cache.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newthinker/keywatch/internal/clock"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/notifier"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Target is one collector's fetch cache.
type Target interface {
	Name() string
	Collect(ctx context.Context, keyword string, start, end time.Time) ([]core.SampleRow, error)
}

// Recorder receives refresh metrics.
type Recorder interface {
	RecordRefresh(status string)
	SetWatchlistSize(size int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRefresh(string) {}
func (nopRecorder) SetWatchlistSize(int) {}

// Alerter receives one event per run that had failures.
type Alerter interface {
	NotifyAll(ctx context.Context, ev notifier.Event) map[string]error
}

// Watchlist supplies the keywords to refresh; it is read at every run.
type Watchlist func() []string

// Static returns a fixed watchlist.
func Static(keywords ...string) Watchlist {
	return func() []string { return keywords }
}

// Service handles scheduling of watchlist refreshes
type Service struct {
	targets   []Target
	watchlist Watchlist
	lookback  time.Duration
	clock     clock.Clock
	metrics   Recorder
	alerter   Alerter
	logger    *zap.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source used to compute refresh windows.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics sets the refresh metrics recorder.
func WithMetrics(r Recorder) Option { return func(s *Service) { s.metrics = r } }

// WithAlerter sets where refresh failures are reported.
func WithAlerter(a Alerter) Option { return func(s *Service) { s.alerter = a } }

// NewService creates a scheduler refreshing [now-lookback, now) of every
// watchlist keyword on every target.
func NewService(targets []Target, watchlist Watchlist, lookback time.Duration, opts ...Option) (*Service, error) {
	if lookback <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("lookback must be positive, got %s", lookback))
	}

	s := &Service{
		targets:   targets,
		watchlist: watchlist,
		lookback:  lookback,
		clock:     clock.Real{},
		metrics:   nopRecorder{},
		logger:    zap.NewNop(),
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.watchlist == nil {
		s.watchlist = Static()
	}
	return s, nil
}

// Start schedules RunOnce on the given cron expression (with seconds).
// Runs that would overlap a still-running refresh are skipped.
func (s *Service) Start(ctx context.Context, spec string) error {
	ctx, cancel := context.WithCancel(ctx)

	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info("Starting scheduled refresh")
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Scheduled refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("schedule %q: %w", spec, err))
	}

	s.cancel = cancel
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.String("cron", spec), zap.Duration("lookback", s.lookback))
	return nil
}

// Stop cancels any running refresh and waits for it to return.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// RunOnce refreshes every keyword on every target. Targets run in parallel;
// keywords of one target run in order. Failures are collected, not fatal.
func (s *Service) RunOnce(ctx context.Context) error {
	end := s.clock.Now()
	start := end.Add(-s.lookback)
	keywords := dedupe(s.watchlist())
	s.metrics.SetWatchlistSize(len(keywords))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		failures []notifier.Failure
	)
	for _, t := range s.targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			for _, keyword := range keywords {
				if ctx.Err() != nil {
					return
				}
				rows, err := t.Collect(ctx, keyword, start, end)
				if err != nil {
					s.logger.Warn("refresh failed",
						zap.String("collector", t.Name()),
						zap.String("keyword", keyword),
						zap.Error(err),
					)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s/%s: %w", t.Name(), keyword, err))
					failures = append(failures, notifier.NewFailure(t.Name(), keyword, err))
					mu.Unlock()
					continue
				}
				s.logger.Debug("refreshed",
					zap.String("collector", t.Name()),
					zap.String("keyword", keyword),
					zap.Int("rows", len(rows)),
				)
			}
		}(t)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.metrics.RecordRefresh("cancelled")
		return err
	}
	if len(errs) > 0 {
		s.metrics.RecordRefresh("error")
		s.alert(ctx, notifier.Event{
			Window:   core.TimeInterval{Start: start, End: end},
			At:       s.clock.Now(),
			Failures: failures,
		})
		return errors.Join(errs...)
	}
	s.metrics.RecordRefresh("ok")
	return nil
}

func (s *Service) alert(ctx context.Context, ev notifier.Event) {
	if s.alerter == nil {
		return
	}
	for name, err := range s.alerter.NotifyAll(ctx, ev) {
		s.logger.Warn("alert delivery failed", zap.String("notifier", name), zap.Error(err))
	}
}

func dedupe(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = core.NormalizeKeyword(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
