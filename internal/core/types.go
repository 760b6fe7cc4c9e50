package core

import (
	"fmt"
	"strings"
	"time"
)

// Epoch anchors every sample grid. Cells computed against it line up across
// runs no matter which start date the caller passes.
var Epoch = time.Unix(0, 0).UTC()

// TimeInterval is a half-open range [Start, End).
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// NewInterval returns [start, end) in UTC, rejecting end before start.
func NewInterval(start, end time.Time) (TimeInterval, error) {
	if end.Before(start) {
		return TimeInterval{}, fmt.Errorf("interval end %s precedes start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeInterval{Start: start.UTC(), End: end.UTC()}, nil
}

// Duration returns End - Start.
func (iv TimeInterval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// IsEmpty reports whether the interval contains no instant.
func (iv TimeInterval) IsEmpty() bool {
	return !iv.Start.Before(iv.End)
}

// Contains reports whether t falls inside [Start, End).
func (iv TimeInterval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Covers reports whether other lies entirely inside iv.
func (iv TimeInterval) Covers(other TimeInterval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Overlaps reports whether the two intervals share any instant.
func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

func (iv TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// SampleRow is one persisted observation.
type SampleRow struct {
	Keyword string
	Time    time.Time
	Value   float64

	// ID is the source-specific identity within a timestamp (comment id);
	// empty for plain time series keyed by (keyword, time).
	ID string

	// Partial marks provisional values for a bucket that has not yet elapsed.
	Partial bool

	// Fields holds source-specific columns (open/high/low, author, text...).
	Fields map[string]any
}

// SeriesKey identifies one collector's rows for one keyword.
type SeriesKey struct {
	Collector string
	Keyword   string
}

func (k SeriesKey) String() string {
	return k.Collector + "/" + k.Keyword
}

// CoverageKey identifies a CoverageSet. Grid is part of the identity because
// coverage recorded under one sample interval is not comparable to another.
type CoverageKey struct {
	Collector string
	Keyword   string
	Grid      time.Duration
}

// Series returns the row key this coverage describes.
func (k CoverageKey) Series() SeriesKey {
	return SeriesKey{Collector: k.Collector, Keyword: k.Keyword}
}

func (k CoverageKey) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Collector, k.Keyword, k.Grid)
}

// NormalizeKeyword lower-cases and trims a keyword so equivalent searches
// share one cache entry.
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}
