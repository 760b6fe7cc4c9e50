package sample

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

var (
	trendsBTC = core.SeriesKey{Collector: "trends", Keyword: "btc"}
	jan1      = time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC)
)

func hour(h int) time.Time { return jan1.Add(time.Duration(h) * time.Hour) }

func TestMemoryStore_ImplementsStore(t *testing.T) {
	var _ Store = (*MemoryStore)(nil)
}

func TestMemoryStore_AppendAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Append(ctx, trendsBTC, []core.SampleRow{
		{Keyword: "btc", Time: hour(2), Value: 2},
		{Keyword: "btc", Time: hour(0), Value: 0},
		{Keyword: "btc", Time: hour(5), Value: 5},
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := store.Load(ctx, trendsBTC, core.TimeInterval{Start: hour(0), End: hour(5)})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in [0h, 5h), got %d", len(rows))
	}
	if !rows[0].Time.Equal(hour(0)) || !rows[1].Time.Equal(hour(2)) {
		t.Errorf("rows not ordered by time: %v", rows)
	}
}

func TestMemoryStore_AppendUpserts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Append(ctx, trendsBTC, []core.SampleRow{{Time: hour(1), Value: 1, Partial: true}})
	store.Append(ctx, trendsBTC, []core.SampleRow{{Time: hour(1), Value: 3}})

	if store.Count(trendsBTC) != 1 {
		t.Fatalf("expected one row, got %d", store.Count(trendsBTC))
	}
	rows, _ := store.Load(ctx, trendsBTC, core.TimeInterval{Start: hour(0), End: hour(2)})
	if rows[0].Value != 3 || rows[0].Partial {
		t.Errorf("row not replaced: %+v", rows[0])
	}
}

func TestMemoryStore_DistinctIDsShareTimestamp(t *testing.T) {
	store := NewMemoryStore()
	key := core.SeriesKey{Collector: "comments", Keyword: "btc"}

	store.Append(context.Background(), key, []core.SampleRow{
		{Time: hour(1), ID: "b"},
		{Time: hour(1), ID: "a"},
	})
	rows, _ := store.Load(context.Background(), key, core.TimeInterval{Start: hour(0), End: hour(2)})
	if len(rows) != 2 || rows[0].ID != "a" {
		t.Errorf("expected two rows ordered by id, got %v", rows)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Append(ctx, trendsBTC, []core.SampleRow{{Time: hour(1)}, {Time: hour(3)}})
	store.Delete(ctx, trendsBTC, core.TimeInterval{Start: hour(0), End: hour(2)})

	if store.Count(trendsBTC) != 1 {
		t.Errorf("expected 1 row after delete, got %d", store.Count(trendsBTC))
	}
}

func TestMemoryStore_Coverage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := core.CoverageKey{Collector: "trends", Keyword: "btc", Grid: 48 * time.Hour}
	other := key
	other.Grid = time.Hour

	ivs := []core.TimeInterval{{Start: hour(0), End: hour(10)}}
	if err := store.ReplaceCoverage(ctx, key, ivs); err != nil {
		t.Fatalf("ReplaceCoverage failed: %v", err)
	}

	got, _ := store.LoadCoverage(ctx, key)
	if len(got) != 1 || !got[0].End.Equal(hour(10)) {
		t.Errorf("unexpected coverage %v", got)
	}

	got, _ = store.LoadCoverage(ctx, other)
	if len(got) != 0 {
		t.Errorf("coverage under another grid must be separate, got %v", got)
	}
}
