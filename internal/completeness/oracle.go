// Package completeness decides whether a cell must be fetched or can be served
// from cache. It is the single place the freshness policy lives.
package completeness

import (
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/coverage"
)

// Outcome is the verdict for one cell.
type Outcome int

const (
	// Satisfied means the cell is fully cached and final.
	Satisfied Outcome = iota
	// StaleLive means the cell is the live edge but its cached rows are
	// final and recent enough to serve.
	StaleLive
	// NeedsFetch means network I/O is required.
	NeedsFetch
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case StaleLive:
		return "stale_live"
	case NeedsFetch:
		return "needs_fetch"
	default:
		return "unknown"
	}
}

// Cached reports whether the outcome is served without fetching.
func (o Outcome) Cached() bool {
	return o == Satisfied || o == StaleLive
}

// Oracle applies the freshness rules for one sample grid.
type Oracle struct {
	sample time.Duration
}

// New creates an oracle for the given sample interval.
func New(sample time.Duration) *Oracle {
	return &Oracle{sample: sample}
}

// IsLiveEdge reports whether cell ends within one sample interval of now.
func (o *Oracle) IsLiveEdge(cell core.TimeInterval, now time.Time) bool {
	return now.Sub(cell.End) < o.sample
}

// Decide classifies cell given the coverage and the rows cached for it.
//
// A covered cell away from the live edge is always Satisfied; an uncovered
// one always NeedsFetch. At the live edge the cell is served only when the
// coverage reaches within one sample interval of now and no cached row is
// partial. An empty cached cell has no partial rows. Partial rows left in a
// cell that has since moved past the live edge are served as they are.
func (o *Oracle) Decide(cell core.TimeInterval, set *coverage.Set, cached []core.SampleRow, now time.Time) Outcome {
	if cell.IsEmpty() {
		return Satisfied
	}

	if !o.IsLiveEdge(cell, now) {
		if set.IsCovered(cell) {
			return Satisfied
		}
		return NeedsFetch
	}

	if !set.CoversWithin(cell, o.sample) {
		return NeedsFetch
	}
	if maxEnd, ok := set.MaxEnd(); !ok || maxEnd.Before(now.Add(-o.sample)) {
		return NeedsFetch
	}
	if HasPartial(cached) {
		return NeedsFetch
	}
	return StaleLive
}

// HasPartial reports whether any row is flagged provisional.
func HasPartial(rows []core.SampleRow) bool {
	for _, r := range rows {
		if r.Partial {
			return true
		}
	}
	return false
}
