package collector

import (
	"context"
	"time"

	"github.com/newthinker/keywatch/internal/core"
)

// Config holds collector configuration
type Config struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Extra   map[string]any
}

// ExtraString returns Extra[key] as a string, or def when absent.
func (c Config) ExtraString(key, def string) string {
	if v, ok := c.Extra[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ExtraStrings returns Extra[key] as a string list.
func (c Config) ExtraStrings(key string) []string {
	switch v := c.Extra[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Collector fetches samples for a keyword over a time window. It owns all
// source-specific HTTP behaviour. Rows outside the requested window are
// discarded by the caller.
type Collector interface {
	Name() string
	Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error)
}

// Decision is the outcome of classifying a fetch failure.
type Decision struct {
	// Retry re-issues the same cell after waiting After.
	Retry bool
	After time.Duration
}

// ErrorClassifier is implemented by collectors with source-specific error
// handling. Collectors without it get the fetch cache's default policy.
type ErrorClassifier interface {
	Classify(err error) Decision
}
