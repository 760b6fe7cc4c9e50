package planner

import (
	"math/rand"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/coverage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeDays = 72 * time.Hour

func day(d int) time.Time {
	return time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d-1)
}

func iv(a, b int) core.TimeInterval {
	return core.TimeInterval{Start: day(a), End: day(b)}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, 0)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(time.Hour, -time.Minute)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestPlan_JanuaryScenario(t *testing.T) {
	p, err := New(threeDays, 0)
	require.NoError(t, err)

	cells := p.Plan(day(1), day(10))
	require.Len(t, cells, 4)
	assert.Equal(t, []core.TimeInterval{iv(1, 4), iv(4, 7), iv(7, 10), iv(10, 13)}, cells)

	clamped := ClampEnd(cells[3], day(10))
	assert.Equal(t, iv(10, 10), clamped)
	assert.True(t, clamped.IsEmpty())
}

func TestPlan_UnalignedStart(t *testing.T) {
	p, _ := New(threeDays, 0)

	cells := p.Plan(day(2).Add(5*time.Hour), day(5))
	require.NotEmpty(t, cells)
	assert.Equal(t, day(1), cells[0].Start, "start floors to the grid line at or before it")
	assert.True(t, cells[len(cells)-1].End.After(day(5)))
}

func TestPlan_Reversed(t *testing.T) {
	p, _ := New(time.Hour, 0)
	assert.Nil(t, p.Plan(day(5), day(1)))
}

func TestPlan_GridAlignment(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	grids := []time.Duration{time.Hour, 4 * time.Hour, 48 * time.Hour, threeDays, 31 * 24 * time.Hour}

	for i := 0; i < 500; i++ {
		d := grids[rng.Intn(len(grids))]
		p, _ := New(d, 0)
		start := day(1).Add(time.Duration(rng.Int63n(int64(400 * 24 * time.Hour))))
		end := start.Add(time.Duration(rng.Int63n(int64(60 * 24 * time.Hour))))

		cells := p.Plan(start, end)
		require.NotEmpty(t, cells)
		assert.False(t, cells[0].Start.After(start))
		assert.True(t, cells[len(cells)-1].End.After(end))
		for j, c := range cells {
			require.Zero(t, c.Start.Sub(core.Epoch)%d, "cell start off grid: %v", c)
			require.Zero(t, c.End.Sub(core.Epoch)%d, "cell end off grid: %v", c)
			if j > 0 {
				require.Equal(t, cells[j-1].End, c.Start, "cells must be consecutive")
			}
		}
	}
}

func TestFloor_BeforeEpoch(t *testing.T) {
	t0 := core.Epoch.Add(-90 * time.Minute)
	assert.Equal(t, core.Epoch.Add(-2*time.Hour), Floor(t0, time.Hour))
}

func TestTrimAgainstNow(t *testing.T) {
	p, _ := New(threeDays, 0)
	now := day(8).Add(6 * time.Hour)

	assert.Equal(t, core.TimeInterval{Start: day(7), End: now}, p.TrimAgainstNow(iv(7, 10), now))
	assert.Equal(t, iv(1, 4), p.TrimAgainstNow(iv(1, 4), now))
	assert.True(t, p.TrimAgainstNow(iv(10, 13), now).IsEmpty(), "future cells are never issued")
}

func TestTrimAgainstCoverage(t *testing.T) {
	p, _ := New(threeDays, 0)

	tests := []struct {
		name     string
		covered  []core.TimeInterval
		cell     core.TimeInterval
		want     core.TimeInterval
		wantLeft bool
	}{
		{"no coverage", nil, iv(4, 7), iv(4, 7), true},
		{"leading edge covered", []core.TimeInterval{iv(1, 5)}, iv(4, 7), iv(5, 7), true},
		{"trailing edge covered", []core.TimeInterval{iv(6, 9)}, iv(4, 7), iv(4, 6), true},
		{"both edges covered", []core.TimeInterval{iv(1, 5), iv(6, 9)}, iv(4, 7), iv(5, 6), true},
		{"interior coverage does not split", []core.TimeInterval{iv(5, 6)}, iv(4, 7), iv(4, 7), true},
		{"fully covered", []core.TimeInterval{iv(1, 10)}, iv(4, 7), core.TimeInterval{}, false},
		{"adjacent coverage untouched", []core.TimeInterval{iv(1, 4)}, iv(4, 7), iv(4, 7), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.TrimAgainstCoverage(tt.cell, coverage.New(tt.covered...))
			assert.Equal(t, tt.wantLeft, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindow_Request(t *testing.T) {
	p, _ := New(48*time.Hour, 24*time.Hour)
	w := p.Window(iv(3, 5))

	assert.Equal(t, iv(2, 5), w.Request())
	assert.Equal(t, iv(2, 3), w.OverlapRegion())
}
