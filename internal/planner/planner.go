// Package planner turns a requested range into grid-aligned cells anchored at
// core.Epoch and trims them against coverage and the current time.
package planner

import (
	"fmt"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/coverage"
)

// Planner produces the ordered cells to visit for one sample grid.
type Planner struct {
	sample  time.Duration
	overlap time.Duration
}

// New creates a planner for the given sample interval and overlap margin.
func New(sample, overlap time.Duration) (*Planner, error) {
	if sample <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sample interval must be positive, got %s", sample))
	}
	if overlap < 0 {
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("overlap interval cannot be negative, got %s", overlap))
	}
	return &Planner{sample: sample, overlap: overlap}, nil
}

// SampleInterval returns the grid size.
func (p *Planner) SampleInterval() time.Duration { return p.sample }

// Overlap returns the leading overlap margin.
func (p *Planner) Overlap() time.Duration { return p.overlap }

// Floor aligns t backward to the grid of size d anchored at core.Epoch.
func Floor(t time.Time, d time.Duration) time.Time {
	rem := t.Sub(core.Epoch) % d
	if rem < 0 {
		rem += d
	}
	return t.Add(-rem)
}

// Plan returns consecutive, non-overlapping cells in ascending order. The
// start is floored to the grid and the end is advanced to the first grid
// line strictly after end, so the cells always reach past the request.
func (p *Planner) Plan(start, end time.Time) []core.TimeInterval {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil
	}

	alignedStart := Floor(start, p.sample)
	alignedEnd := end.Add(-(end.Sub(alignedStart) % p.sample)).Add(p.sample)

	n := int(alignedEnd.Sub(alignedStart) / p.sample)
	cells := make([]core.TimeInterval, 0, n)
	for i := 0; i < n; i++ {
		cs := alignedStart.Add(time.Duration(i) * p.sample)
		cells = append(cells, core.TimeInterval{Start: cs, End: cs.Add(p.sample)})
	}
	return cells
}

// ClampEnd bounds cell by limit. A cell entirely past limit collapses to
// the empty interval [limit, limit).
func ClampEnd(cell core.TimeInterval, limit time.Time) core.TimeInterval {
	if cell.End.After(limit) {
		cell.End = limit
	}
	if cell.Start.After(cell.End) {
		cell.Start = cell.End
	}
	return cell
}

// TrimAgainstNow clamps the cell so no future time is ever requested.
func (p *Planner) TrimAgainstNow(cell core.TimeInterval, now time.Time) core.TimeInterval {
	return ClampEnd(cell, now)
}

// TrimAgainstCoverage shrinks cell to its uncovered remainder when covered
// intervals overlap its leading or trailing edge. A covered interval strictly
// inside the cell does not split it; the whole remainder is fetched again.
// The boolean is false when nothing is left to fetch.
func (p *Planner) TrimAgainstCoverage(cell core.TimeInterval, set *coverage.Set) (core.TimeInterval, bool) {
	for _, c := range set.Intervals() {
		if !c.Overlaps(cell) {
			continue
		}
		switch {
		case c.Covers(cell):
			return core.TimeInterval{}, false
		case !c.Start.After(cell.Start):
			cell.Start = c.End
		case !c.End.Before(cell.End):
			cell.End = c.Start
		}
	}
	if cell.IsEmpty() {
		return core.TimeInterval{}, false
	}
	return cell, true
}

// Window is one fetch request: a cell plus the overlap margin requested
// before it.
type Window struct {
	Cell    core.TimeInterval
	Overlap time.Duration
}

// Window wraps cell with the planner's overlap margin.
func (p *Planner) Window(cell core.TimeInterval) Window {
	return Window{Cell: cell, Overlap: p.overlap}
}

// Request is the interval actually sent to the source.
func (w Window) Request() core.TimeInterval {
	return core.TimeInterval{Start: w.Cell.Start.Add(-w.Overlap), End: w.Cell.End}
}

// OverlapRegion is the leading part shared with the previous window.
func (w Window) OverlapRegion() core.TimeInterval {
	return core.TimeInterval{Start: w.Cell.Start.Add(-w.Overlap), End: w.Cell.Start}
}
