package app

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/newthinker/keywatch/internal/clock"
	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/collector/comments"
	"github.com/newthinker/keywatch/internal/collector/exchange"
	"github.com/newthinker/keywatch/internal/collector/trends"
	"github.com/newthinker/keywatch/internal/config"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/fetchcache"
	"github.com/newthinker/keywatch/internal/metrics"
	"github.com/newthinker/keywatch/internal/notifier"
	"github.com/newthinker/keywatch/internal/notifier/telegram"
	"github.com/newthinker/keywatch/internal/notifier/webhook"
	"github.com/newthinker/keywatch/internal/scheduler"
	"github.com/newthinker/keywatch/internal/storage/archive"
	"github.com/newthinker/keywatch/internal/storage/sample"
	"go.uber.org/zap"
)

// DefaultSettings returns the grid a source runs with when its config leaves
// the fields unset.
func DefaultSettings(name string) fetchcache.Settings {
	s := fetchcache.DefaultSettings()
	switch name {
	case trends.Name:
		s.SampleInterval = 48 * time.Hour
		s.OverlapInterval = 24 * time.Hour
		s.MinRequestInterval = time.Second
	case comments.Name:
		s.SampleInterval = 31 * 24 * time.Hour
	case exchange.Name:
		s.SampleInterval = 20 * 24 * time.Hour
		s.MinRequestInterval = 200 * time.Millisecond
	}
	return s
}

// Option configures an App.
type Option func(*App)

// WithClock sets the time source of every cache.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clock = c } }

// WithMetrics sets the metrics registry.
func WithMetrics(r *metrics.Registry) Option { return func(a *App) { a.metrics = r } }

// App wires collectors, their fetch caches and the archive over one store.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	clock      clock.Clock
	metrics    *metrics.Registry
	store      sample.Store
	collectors *collector.Registry
	caches     map[string]*fetchcache.Cache
	locks      *fetchcache.KeyLocks
	notifiers  *notifier.Registry

	exporterOnce sync.Once
	exporter     *archive.Exporter
	exporterErr  error

	mu        sync.RWMutex
	watchlist []string
}

// New opens the configured store and builds a cache for every enabled
// collector.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var built []collector.Collector
	for _, name := range cfg.EnabledCollectors() {
		c, err := buildCollector(name, cfg.Collectors[name], logger)
		if err != nil {
			return nil, fmt.Errorf("collector %s: %w", name, err)
		}
		built = append(built, c)
	}

	store, err := sample.OpenSQLite(cfg.Cache.Path)
	if err != nil {
		return nil, core.WrapError(core.ErrStoreFailed, fmt.Errorf("opening cache %s: %w", cfg.Cache.Path, err))
	}

	a, err := NewWithCollectors(cfg, store, built, logger, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithCollectors builds an App around already constructed collectors.
func NewWithCollectors(cfg *config.Config, store sample.Store, collectors []collector.Collector, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:        cfg,
		logger:     logger,
		clock:      clock.Real{},
		store:      store,
		collectors: collector.NewRegistry(),
		caches:     make(map[string]*fetchcache.Cache),
		locks:      fetchcache.NewKeyLocks(),
		notifiers:  notifier.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.NewRegistry()
	}
	a.SetWatchlist(cfg.Schedule.Watchlist)

	for _, nc := range cfg.Notifiers {
		n, err := buildNotifier(nc)
		if err != nil {
			return nil, err
		}
		if err := a.notifiers.Register(n); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
	}

	for _, c := range collectors {
		settings := cfg.Collectors[c.Name()].Settings(DefaultSettings(c.Name()))
		if c.Name() == trends.Name {
			if err := trends.ValidateWindow(settings.SampleInterval, settings.OverlapInterval); err != nil {
				return nil, err
			}
		}

		cache, err := fetchcache.New(c, store, settings,
			fetchcache.WithClock(a.clock),
			fetchcache.WithLogger(logger),
			fetchcache.WithMetrics(a.metrics),
			fetchcache.WithLocks(a.locks),
		)
		if err != nil {
			return nil, fmt.Errorf("collector %s: %w", c.Name(), err)
		}
		a.collectors.Register(c)
		a.caches[c.Name()] = cache
	}

	return a, nil
}

func buildCollector(name string, cc config.CollectorConfig, logger *zap.Logger) (collector.Collector, error) {
	cfg := collector.Config{
		Enabled: cc.Enabled,
		BaseURL: cc.BaseURL,
		APIKey:  cc.APIKey,
		Timeout: cc.Timeout,
		Extra:   map[string]any{},
	}
	put := func(key, value string) {
		if value != "" {
			cfg.Extra[key] = value
		}
	}

	switch name {
	case trends.Name:
		put("category", cc.Category)
		put("geo", cc.Geo)
		return trends.New(cfg, logger)
	case comments.Name:
		put("subreddit", cc.Subreddit)
		if cc.PageSize > 0 {
			put("page_size", strconv.Itoa(cc.PageSize))
		}
		return comments.New(cfg, logger)
	case exchange.Name:
		put("quote", cc.Quote)
		put("resolution", cc.Resolution)
		if len(cc.Providers) > 0 {
			cfg.Extra["providers"] = cc.Providers
		}
		return exchange.New(cfg, logger)
	default:
		return nil, core.WrapError(core.ErrCollectorNotFound, fmt.Errorf("%q", name))
	}
}

func buildNotifier(nc notifier.Config) (notifier.Notifier, error) {
	var n notifier.Notifier
	switch nc.Type {
	case "webhook":
		n = webhook.New("", nil)
	case "telegram":
		n = telegram.New("", "")
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown notifier type %q", nc.Type))
	}
	if err := n.Init(nc); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, err)
	}
	return n, nil
}

// Notifiers returns the names of the configured failure notifiers.
func (a *App) Notifiers() []string {
	return a.notifiers.Names()
}

// Metrics returns the registry every cache reports into.
func (a *App) Metrics() *metrics.Registry {
	return a.metrics
}

// Collectors returns the names of the wired collectors.
func (a *App) Collectors() []string {
	return a.collectors.Names()
}

// Cache returns the fetch cache of a collector.
func (a *App) Cache(name string) (*fetchcache.Cache, error) {
	if _, err := a.collectors.Lookup(name); err != nil {
		return nil, err
	}
	return a.caches[name], nil
}

// Query returns the series of keyword over [start, end) from a collector,
// fetching only what the cache lacks.
func (a *App) Query(ctx context.Context, collectorName, keyword string, start, end time.Time) ([]core.SampleRow, error) {
	cache, err := a.Cache(collectorName)
	if err != nil {
		return nil, err
	}
	return cache.Collect(ctx, keyword, start, end)
}

// Coverage returns the covered intervals of keyword on a collector.
func (a *App) Coverage(ctx context.Context, collectorName, keyword string) ([]core.TimeInterval, error) {
	cache, err := a.Cache(collectorName)
	if err != nil {
		return nil, err
	}
	set, err := cache.Coverage(ctx, keyword)
	if err != nil {
		return nil, err
	}
	return set.Intervals(), nil
}

// Exporter returns the archive exporter, opening the backend on first use.
func (a *App) Exporter() (*archive.Exporter, error) {
	a.exporterOnce.Do(func() {
		storage, err := archive.Open(archive.Config{
			Type: a.cfg.Archive.Type,
			Path: a.cfg.Archive.Path,
			S3: archive.S3Config{
				Bucket:    a.cfg.Archive.S3.Bucket,
				Endpoint:  a.cfg.Archive.S3.Endpoint,
				Region:    a.cfg.Archive.S3.Region,
				AccessKey: a.cfg.Archive.S3.AccessKey,
				SecretKey: a.cfg.Archive.S3.SecretKey,
				Prefix:    a.cfg.Archive.S3.Prefix,
			},
		})
		if err != nil {
			a.exporterErr = err
			return
		}
		a.exporter = archive.NewExporter(storage, a.logger)
	})
	return a.exporter, a.exporterErr
}

// Export queries [start, end) and writes the result to the archive,
// returning the archive path.
func (a *App) Export(ctx context.Context, collectorName, keyword string, start, end time.Time) (string, error) {
	rows, err := a.Query(ctx, collectorName, keyword, start, end)
	if err != nil {
		return "", err
	}
	exporter, err := a.Exporter()
	if err != nil {
		return "", err
	}

	if now := a.clock.Now(); end.After(now) {
		end = now
	}
	iv, err := core.NewInterval(start, end)
	if err != nil {
		return "", core.WrapError(core.ErrConfigInvalid, err)
	}
	return exporter.Export(ctx, collectorName, core.NormalizeKeyword(keyword), iv, rows)
}

// SetWatchlist replaces the keywords refreshed on schedule
func (a *App) SetWatchlist(keywords []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watchlist = a.watchlist[:0]
	for _, k := range keywords {
		if k = core.NormalizeKeyword(k); k != "" && !slices.Contains(a.watchlist, k) {
			a.watchlist = append(a.watchlist, k)
		}
	}
}

// GetWatchlist returns a copy of the watchlist
func (a *App) GetWatchlist() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.watchlist))
	copy(out, a.watchlist)
	return out
}

// AddToWatchlist adds a keyword, reporting whether it was new
func (a *App) AddToWatchlist(keyword string) bool {
	keyword = core.NormalizeKeyword(keyword)
	a.mu.Lock()
	defer a.mu.Unlock()
	if keyword == "" || slices.Contains(a.watchlist, keyword) {
		return false
	}
	a.watchlist = append(a.watchlist, keyword)
	return true
}

// RemoveFromWatchlist removes a keyword, reporting whether it was present
func (a *App) RemoveFromWatchlist(keyword string) bool {
	keyword = core.NormalizeKeyword(keyword)
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, k := range a.watchlist {
		if k == keyword {
			a.watchlist = append(a.watchlist[:i], a.watchlist[i+1:]...)
			return true
		}
	}
	return false
}

// Scheduler builds the watchlist refresh service over every cache.
func (a *App) Scheduler() (*scheduler.Service, error) {
	names := a.Collectors()
	targets := make([]scheduler.Target, 0, len(names))
	for _, name := range names {
		targets = append(targets, a.caches[name])
	}
	opts := []scheduler.Option{
		scheduler.WithClock(a.clock),
		scheduler.WithLogger(a.logger),
		scheduler.WithMetrics(a.metrics),
	}
	if a.notifiers.Len() > 0 {
		opts = append(opts, scheduler.WithAlerter(a.notifiers))
	}
	return scheduler.NewService(targets, a.GetWatchlist, a.cfg.Schedule.Lookback, opts...)
}

// Close releases the store.
func (a *App) Close() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
