package api

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// fakeApp implements SeriesApp, ExportApp and WatchlistApp in memory.
type fakeApp struct {
	mu        sync.Mutex
	rows      []core.SampleRow
	coverage  []core.TimeInterval
	err       error
	watchlist []string
	exported  chan string

	lastQuery struct {
		collector, keyword string
		start, end         time.Time
	}
}

func (f *fakeApp) Collectors() []string { return []string{"comments", "trends"} }

func (f *fakeApp) Query(ctx context.Context, collector, keyword string, start, end time.Time) ([]core.SampleRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery.collector, f.lastQuery.keyword = collector, keyword
	f.lastQuery.start, f.lastQuery.end = start, end
	if collector != "trends" && collector != "comments" {
		return nil, core.WrapError(core.ErrCollectorNotFound, fmt.Errorf("%q", collector))
	}
	return f.rows, f.err
}

func (f *fakeApp) Coverage(ctx context.Context, collector, keyword string) ([]core.TimeInterval, error) {
	if collector != "trends" && collector != "comments" {
		return nil, core.WrapError(core.ErrCollectorNotFound, fmt.Errorf("%q", collector))
	}
	return f.coverage, nil
}

func (f *fakeApp) Export(ctx context.Context, collector, keyword string, start, end time.Time) (string, error) {
	defer func() {
		if f.exported != nil {
			close(f.exported)
		}
	}()
	if f.err != nil {
		return "", f.err
	}
	return collector + "/" + keyword + "/export.json", nil
}

func (f *fakeApp) GetWatchlist() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.watchlist)
}

func (f *fakeApp) AddToWatchlist(keyword string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slices.Contains(f.watchlist, keyword) {
		return false
	}
	f.watchlist = append(f.watchlist, keyword)
	return true
}

func (f *fakeApp) RemoveFromWatchlist(keyword string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := slices.Index(f.watchlist, keyword)
	if i < 0 {
		return false
	}
	f.watchlist = slices.Delete(f.watchlist, i, i+1)
	return true
}
