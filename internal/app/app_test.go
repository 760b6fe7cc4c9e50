package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/clock"
	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/config"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/notifier"
	"github.com/newthinker/keywatch/internal/storage/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var jan1 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// mockCollector returns one row per day of the requested window.
type mockCollector struct {
	name string

	mu    sync.Mutex
	calls int
}

func (m *mockCollector) Name() string { return m.name }

func (m *mockCollector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	var rows []core.SampleRow
	for t := iv.Start; t.Before(iv.End); t = t.Add(24 * time.Hour) {
		rows = append(rows, core.SampleRow{Time: t, Value: 1})
	}
	return rows, nil
}

func (m *mockCollector) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Archive.Path = t.TempDir()
	cfg.Collectors = map[string]config.CollectorConfig{
		"daily": {Enabled: true, SampleInterval: 24 * time.Hour},
	}
	cfg.Schedule.Watchlist = []string{"BTC", "eth"}
	cfg.Schedule.Lookback = 72 * time.Hour
	return cfg
}

func newTestApp(t *testing.T) (*App, *mockCollector) {
	t.Helper()
	mock := &mockCollector{name: "daily"}
	a, err := NewWithCollectors(testConfig(t), sample.NewMemoryStore(), []collector.Collector{mock}, zap.NewNop(),
		WithClock(clock.NewManual(jan1.Add(10*24*time.Hour))))
	require.NoError(t, err)
	return a, mock
}

func TestApp_QueryAndCoverage(t *testing.T) {
	a, mock := newTestApp(t)
	ctx := context.Background()

	rows, err := a.Query(ctx, "daily", "BTC", jan1, jan1.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 3, mock.callCount())

	_, err = a.Query(ctx, "daily", "btc", jan1, jan1.Add(3*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, mock.callCount(), "second query should be served from the cache")

	cov, err := a.Coverage(ctx, "daily", "btc")
	require.NoError(t, err)
	require.Len(t, cov, 1)
	assert.Equal(t, jan1, cov[0].Start)
	assert.Equal(t, jan1.Add(3*24*time.Hour), cov[0].End)
}

func TestApp_UnknownCollector(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.Query(context.Background(), "nope", "btc", jan1, jan1.Add(time.Hour))
	assert.True(t, errors.Is(err, core.ErrCollectorNotFound))

	_, err = a.Coverage(context.Background(), "nope", "btc")
	assert.True(t, errors.Is(err, core.ErrCollectorNotFound))

	assert.Equal(t, []string{"daily"}, a.Collectors())
}

func TestApp_Export(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	p, err := a.Export(ctx, "daily", "BTC", jan1, jan1.Add(2*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "daily/btc/20240101T000000Z_20240103T000000Z.json", p)

	exporter, err := a.Exporter()
	require.NoError(t, err)
	doc, err := exporter.Load(ctx, p)
	require.NoError(t, err)
	assert.Len(t, doc.Rows, 2)
}

func TestApp_Watchlist(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Equal(t, []string{"btc", "eth"}, a.GetWatchlist())
	assert.True(t, a.AddToWatchlist(" DOGE "))
	assert.False(t, a.AddToWatchlist("doge"))
	assert.False(t, a.AddToWatchlist(""))
	assert.True(t, a.RemoveFromWatchlist("ETH"))
	assert.False(t, a.RemoveFromWatchlist("eth"))
	assert.Equal(t, []string{"btc", "doge"}, a.GetWatchlist())
}

func TestApp_Scheduler(t *testing.T) {
	a, mock := newTestApp(t)

	s, err := a.Scheduler()
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))

	// 72h lookback on a daily grid: three cells per keyword
	assert.Equal(t, 6, mock.callCount())

	cov, err := a.Coverage(context.Background(), "daily", "eth")
	require.NoError(t, err)
	assert.Len(t, cov, 1)
}

type failingCollector struct{}

func (failingCollector) Name() string { return "daily" }

func (failingCollector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	return nil, core.WrapError(core.ErrSourcePermanent, errors.New("unknown keyword"))
}

func TestApp_SchedulerAlertsWebhook(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]any
		json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Notifiers = []notifier.Config{{Type: "webhook", Params: map[string]any{"url": server.URL}}}

	a, err := NewWithCollectors(cfg, sample.NewMemoryStore(), []collector.Collector{failingCollector{}}, zap.NewNop(),
		WithClock(clock.NewManual(jan1.Add(10*24*time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, []string{"webhook"}, a.Notifiers())

	s, err := a.Scheduler()
	require.NoError(t, err)
	require.Error(t, s.RunOnce(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 1)
	assert.Equal(t, float64(2), payloads[0]["count"])
}

func TestNewWithCollectors_InvalidNotifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifiers = []notifier.Config{{Type: "telegram", Params: map[string]any{"chat_id": "1"}}}

	_, err := NewWithCollectors(cfg, sample.NewMemoryStore(), nil, zap.NewNop())
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestNew_FromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.Path = ":memory:"
	cfg.Collectors = map[string]config.CollectorConfig{
		"trends":   {Enabled: true, Category: "7"},
		"comments": {Enabled: true, PageSize: 50},
		"exchange": {Enabled: true, Providers: []string{"binance"}, Quote: "USDT"},
	}

	a, err := New(cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"comments", "exchange", "trends"}, a.Collectors())

	cache, err := a.Cache("trends")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, cache.Settings().SampleInterval)
	assert.Equal(t, 24*time.Hour, cache.Settings().OverlapInterval)
}

func TestNew_RejectsWideTrendWindow(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.Path = ":memory:"
	cfg.Collectors = map[string]config.CollectorConfig{
		"trends": {Enabled: true, SampleInterval: 7 * 24 * time.Hour},
	}

	_, err := New(cfg, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestNew_UnknownCollector(t *testing.T) {
	cfg := config.Defaults()
	cfg.Cache.Path = ":memory:"
	cfg.Collectors = map[string]config.CollectorConfig{"twitter": {Enabled: true}}

	_, err := New(cfg, nil)
	assert.True(t, errors.Is(err, core.ErrCollectorNotFound))
}

func TestDefaultSettings(t *testing.T) {
	assert.Equal(t, 31*24*time.Hour, DefaultSettings("comments").SampleInterval)
	assert.Equal(t, 20*24*time.Hour, DefaultSettings("exchange").SampleInterval)
	assert.Zero(t, DefaultSettings("exchange").OverlapInterval)
	assert.NoError(t, DefaultSettings("trends").Validate())
}
