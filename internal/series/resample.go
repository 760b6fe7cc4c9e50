// Package series turns stored rows into regular, Epoch-aligned buckets.
package series

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// Aggregation selects how the rows of one bucket are combined.
type Aggregation string

const (
	Sum   Aggregation = "sum"
	Mean  Aggregation = "mean"
	Count Aggregation = "count"
	Last  Aggregation = "last"
)

// ParseAggregation accepts sum, mean, count and last, case-insensitively.
func ParseAggregation(s string) (Aggregation, error) {
	switch a := Aggregation(strings.ToLower(strings.TrimSpace(s))); a {
	case Sum, Mean, Count, Last:
		return a, nil
	}
	return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown aggregation %q", s))
}

// Bucket is one resampled point.
type Bucket struct {
	Time  time.Time
	Value float64
	// Rows is the number of rows folded into the bucket.
	Rows int
	// Partial is set when any contributing row was partial.
	Partial bool
}

// BucketStart returns the start of the Epoch-aligned bucket containing t.
func BucketStart(t time.Time, interval time.Duration) time.Time {
	offset := t.Sub(core.Epoch) % interval
	if offset < 0 {
		offset += interval
	}
	return t.Add(-offset).UTC()
}

// Resample folds rows into buckets of the given interval. Only buckets that
// received rows are returned, in time order.
func Resample(rows []core.SampleRow, interval time.Duration, agg Aggregation) ([]Bucket, error) {
	if interval <= 0 {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("resample interval must be positive, got %s", interval))
	}
	if _, err := ParseAggregation(string(agg)); err != nil {
		return nil, err
	}

	sorted := make([]core.SampleRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	var out []Bucket
	for _, r := range sorted {
		start := BucketStart(r.Time, interval)
		if len(out) == 0 || !out[len(out)-1].Time.Equal(start) {
			out = append(out, Bucket{Time: start})
		}
		b := &out[len(out)-1]
		b.Rows++
		b.Partial = b.Partial || r.Partial
		switch agg {
		case Sum, Mean:
			b.Value += r.Value
		case Last:
			b.Value = r.Value
		}
	}

	for i := range out {
		switch agg {
		case Count:
			out[i].Value = float64(out[i].Rows)
		case Mean:
			out[i].Value /= float64(out[i].Rows)
		}
	}
	return out, nil
}

// Fill inserts zero-valued buckets for every empty slot between the first
// and last bucket, so count series have no gaps.
func Fill(buckets []Bucket, interval time.Duration) []Bucket {
	if len(buckets) < 2 || interval <= 0 {
		return buckets
	}
	out := make([]Bucket, 0, len(buckets))
	for i, b := range buckets {
		if i > 0 {
			for t := out[len(out)-1].Time.Add(interval); t.Before(b.Time); t = t.Add(interval) {
				out = append(out, Bucket{Time: t})
			}
		}
		out = append(out, b)
	}
	return out
}
