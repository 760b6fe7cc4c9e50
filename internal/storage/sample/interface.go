// Package sample persists fetched rows and coverage for the fetch cache.
package sample

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/newthinker/keywatch/internal/core"
)

// Store defines the persistence contract used by the fetch cache.
type Store interface {
	// Load returns rows of key with Time in iv, ordered by (Time, ID).
	Load(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) ([]core.SampleRow, error)

	// Delete removes rows of key with Time in iv.
	Delete(ctx context.Context, key core.SeriesKey, iv core.TimeInterval) error

	// Append writes rows under key. Rows with an existing (Time, ID) replace it.
	// Fields come back from Load in their JSON shape: numbers as float64,
	// nested values as map[string]any and []any.
	Append(ctx context.Context, key core.SeriesKey, rows []core.SampleRow) error

	// LoadCoverage returns the stored coverage intervals for key.
	LoadCoverage(ctx context.Context, key core.CoverageKey) ([]core.TimeInterval, error)

	// ReplaceCoverage deletes all coverage for key and inserts intervals in
	// one logical commit.
	ReplaceCoverage(ctx context.Context, key core.CoverageKey, intervals []core.TimeInterval) error
}

func sortRows(rows []core.SampleRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Time.Before(rows[j].Time)
		}
		return rows[i].ID < rows[j].ID
	})
}

// encodeFields returns the stored form of fields, or nil when empty.
func encodeFields(fields map[string]any) ([]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	return json.Marshal(fields)
}

func decodeFields(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
