package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/keywatch/internal/api/response"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/series"
)

// SeriesApp defines the interface needed from app.App.
type SeriesApp interface {
	Collectors() []string
	Query(ctx context.Context, collector, keyword string, start, end time.Time) ([]core.SampleRow, error)
	Coverage(ctx context.Context, collector, keyword string) ([]core.TimeInterval, error)
}

// SeriesHandler serves cached series and their coverage.
type SeriesHandler struct {
	app SeriesApp
	now func() time.Time
}

// NewSeriesHandler creates a new series handler.
func NewSeriesHandler(app SeriesApp) *SeriesHandler {
	return &SeriesHandler{app: app, now: func() time.Time { return time.Now().UTC() }}
}

// Point is one row of a series response.
type Point struct {
	Time    time.Time      `json:"time"`
	Value   float64        `json:"value"`
	ID      string         `json:"id,omitempty"`
	Partial bool           `json:"partial,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
	Rows    int            `json:"rows,omitempty"`
}

// Interval is a covered range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Collectors lists the wired collectors.
func (h *SeriesHandler) Collectors(w http.ResponseWriter, r *http.Request) {
	response.List(w, http.StatusOK, h.app.Collectors())
}

// Series returns the rows of keyword over [start, end), fetching what the
// cache lacks. Optional resample (a Go duration) and agg fold rows into
// buckets.
func (h *SeriesHandler) Series(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vals, err := required(q, "collector", "keyword", "start")
	if err != nil {
		response.Fail(w, err)
		return
	}
	start, end, err := window(vals[2], q.Get("end"), h.now())
	if err != nil {
		response.Fail(w, err)
		return
	}

	var (
		interval time.Duration
		agg      = series.Sum
	)
	if raw := q.Get("resample"); raw != "" {
		if interval, err = time.ParseDuration(raw); err != nil || interval <= 0 {
			response.Fail(w, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("resample must be a positive duration, got %q", raw)))
			return
		}
	}
	if raw := q.Get("agg"); raw != "" {
		if agg, err = series.ParseAggregation(raw); err != nil {
			response.Fail(w, err)
			return
		}
	}

	rows, err := h.app.Query(r.Context(), vals[0], vals[1], start, end)
	if err != nil {
		response.Fail(w, err)
		return
	}

	if interval == 0 {
		points := make([]Point, len(rows))
		for i, row := range rows {
			points[i] = Point{Time: row.Time, Value: row.Value, ID: row.ID, Partial: row.Partial, Fields: row.Fields}
		}
		response.List(w, http.StatusOK, points)
		return
	}

	buckets, err := series.Resample(rows, interval, agg)
	if err != nil {
		response.Fail(w, err)
		return
	}
	points := make([]Point, len(buckets))
	for i, b := range buckets {
		points[i] = Point{Time: b.Time, Value: b.Value, Partial: b.Partial, Rows: b.Rows}
	}
	response.List(w, http.StatusOK, points)
}

// Coverage returns the covered intervals of keyword.
func (h *SeriesHandler) Coverage(w http.ResponseWriter, r *http.Request) {
	vals, err := required(r.URL.Query(), "collector", "keyword")
	if err != nil {
		response.Fail(w, err)
		return
	}

	ivs, err := h.app.Coverage(r.Context(), vals[0], vals[1])
	if err != nil {
		response.Fail(w, err)
		return
	}
	out := make([]Interval, len(ivs))
	for i, iv := range ivs {
		out[i] = Interval{Start: iv.Start, End: iv.End}
	}
	response.List(w, http.StatusOK, out)
}
