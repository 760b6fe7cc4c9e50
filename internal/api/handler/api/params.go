package api

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// parseTime accepts RFC 3339 timestamps and plain dates (UTC midnight).
func parseTime(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	return time.Time{}, core.WrapError(core.ErrConfigInvalid,
		fmt.Errorf("%s must be RFC 3339 or YYYY-MM-DD, got %q", field, v))
}

// required returns the named query values, failing on the first missing one.
func required(q url.Values, names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = strings.TrimSpace(q.Get(name))
		if out[i] == "" {
			return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("query parameter %q is required", name))
		}
	}
	return out, nil
}

// window parses start and an optional end (default now).
func window(startRaw, endRaw string, now time.Time) (time.Time, time.Time, error) {
	start, err := parseTime("start", startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := now
	if strings.TrimSpace(endRaw) != "" {
		if end, err = parseTime("end", endRaw); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}
