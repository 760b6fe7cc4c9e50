// Package coverage tracks the time ranges already durably cached for one
// (collector, keyword, grid) key.
package coverage

import (
	"slices"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// Set is an ordered sequence of strictly disjoint intervals: for consecutive
// a, b it holds a.End < b.Start. Touching intervals are merged.
//
// A Set is not safe for concurrent use; the fetch cache serialises access per key.
type Set struct {
	intervals []core.TimeInterval
}

// New builds a Set from arbitrary intervals, merging as needed.
func New(intervals ...core.TimeInterval) *Set {
	s := &Set{}
	s.intervals = normalize(intervals)
	return s
}

// Intervals returns a copy of the merged intervals in ascending order.
func (s *Set) Intervals() []core.TimeInterval {
	return slices.Clone(s.intervals)
}

// Len returns the number of disjoint intervals.
func (s *Set) Len() int {
	return len(s.intervals)
}

// MaxEnd returns the latest covered instant and false when the set is empty.
func (s *Set) MaxEnd() (time.Time, bool) {
	if len(s.intervals) == 0 {
		return time.Time{}, false
	}
	return s.intervals[len(s.intervals)-1].End, true
}

// IsCovered reports whether iv lies entirely inside one stored interval.
// An interval straddling a coverage boundary is not covered. Empty intervals
// are trivially covered.
func (s *Set) IsCovered(iv core.TimeInterval) bool {
	if iv.IsEmpty() {
		return true
	}
	// first interval whose End is after iv.Start
	i, _ := slices.BinarySearchFunc(s.intervals, iv.Start, func(c core.TimeInterval, t time.Time) int {
		if c.End.After(t) {
			return 1
		}
		return -1
	})
	return i < len(s.intervals) && s.intervals[i].Covers(iv)
}

// CoversWithin is IsCovered relaxed at the newest edge: iv also counts when
// it starts inside the last stored interval and overshoots its end by less
// than tolerance. The caller decides whether that freshness is acceptable.
func (s *Set) CoversWithin(iv core.TimeInterval, tolerance time.Duration) bool {
	if s.IsCovered(iv) {
		return true
	}
	if len(s.intervals) == 0 {
		return false
	}
	last := s.intervals[len(s.intervals)-1]
	return last.Contains(iv.Start) && iv.End.Sub(last.End) < tolerance
}

// MergeInsert adds iv and re-merges the set. Equal starts resolve to the
// later end.
func (s *Set) MergeInsert(iv core.TimeInterval) {
	if iv.IsEmpty() {
		return
	}
	s.intervals = normalize(append(s.intervals, iv))
}

func normalize(in []core.TimeInterval) []core.TimeInterval {
	work := make([]core.TimeInterval, 0, len(in))
	for _, iv := range in {
		if !iv.IsEmpty() {
			work = append(work, iv)
		}
	}
	slices.SortFunc(work, func(a, b core.TimeInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})

	merged := make([]core.TimeInterval, 0, len(work))
	for _, iv := range work {
		n := len(merged)
		if n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
