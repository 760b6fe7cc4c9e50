// Package reconcile rescales a self-normalised fetch window so its overlap
// with the previous window matches the previous magnitude, then drops the
// overlapped prefix before stitching.
package reconcile

import (
	"math"

	"github.com/newthinker/keywatch/internal/core"
	"go.uber.org/zap"
)

// DefaultEpsilon is the smallest overlap mean treated as non-zero.
const DefaultEpsilon = 1e-9

// Result describes one reconciliation step.
type Result struct {
	Rows []core.SampleRow
	// Scale is the factor applied to Rows, 1 when nothing was rescaled.
	Scale float64
	// Applied is false for first windows and degenerate overlaps.
	Applied bool
	// Common is the number of timestamps shared within the overlap.
	Common int
}

// Reconciler stitches consecutive windows.
type Reconciler struct {
	logger  *zap.Logger
	epsilon float64
}

// New creates a reconciler.
func New(logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logger: logger, epsilon: DefaultEpsilon}
}

// Reconcile scales next by mean(previous[overlap]) / mean(next[overlap]) over
// the timestamps both series share inside overlap, then returns only the
// rows of next at or after overlap.End.
//
// With an empty previous series this is a no-op and next is returned as is.
// When the overlap has no shared timestamps, or the mean of next there is
// near zero, the scale is undefined: rows are kept unscaled and a warning is
// logged.
func (r *Reconciler) Reconcile(previous, next []core.SampleRow, overlap core.TimeInterval) Result {
	if len(previous) == 0 {
		return Result{Rows: next, Scale: 1}
	}

	prevAt := make(map[int64]float64, len(previous))
	for _, row := range previous {
		if overlap.Contains(row.Time) {
			prevAt[row.Time.UnixNano()] = row.Value
		}
	}

	var prevSum, nextSum float64
	common := 0
	for _, row := range next {
		if !overlap.Contains(row.Time) {
			continue
		}
		pv, ok := prevAt[row.Time.UnixNano()]
		if !ok {
			continue
		}
		prevSum += pv
		nextSum += row.Value
		common++
	}

	scale := 1.0
	applied := false
	switch {
	case common == 0:
		r.logger.Warn("no shared timestamps in overlap, skipping rescale",
			zap.Time("overlap_start", overlap.Start),
			zap.Time("overlap_end", overlap.End),
		)
	case math.Abs(nextSum/float64(common)) < r.epsilon:
		r.logger.Warn("overlap mean is zero, skipping rescale",
			zap.Time("overlap_start", overlap.Start),
			zap.Time("overlap_end", overlap.End),
			zap.Int("common", common),
		)
	default:
		scale = (prevSum / float64(common)) / (nextSum / float64(common))
		applied = true
	}

	out := make([]core.SampleRow, 0, len(next))
	for _, row := range next {
		if row.Time.Before(overlap.End) {
			continue
		}
		row.Value *= scale
		out = append(out, row)
	}

	return Result{Rows: out, Scale: scale, Applied: applied, Common: common}
}
