package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/newthinker/keywatch/internal/core"
)

// mockCollector for testing
type mockCollector struct {
	name string
}

func (m *mockCollector) Name() string { return m.name }
func (m *mockCollector) Fetch(ctx context.Context, iv core.TimeInterval, keyword string) ([]core.SampleRow, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	mock := &mockCollector{name: "mock"}
	r.Register(mock)

	c, ok := r.Get("mock")
	if !ok {
		t.Fatal("expected to find registered collector")
	}

	if c.Name() != "mock" {
		t.Errorf("expected name 'mock', got '%s'", c.Name())
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("missing")
	if !errors.Is(err, core.ErrCollectorNotFound) {
		t.Errorf("expected COLLECTOR_NOT_FOUND, got %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockCollector{name: "trends"})
	r.Register(&mockCollector{name: "exchange"})

	names := r.Names()
	if len(names) != 2 || names[0] != "exchange" || names[1] != "trends" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestConfig_ExtraString(t *testing.T) {
	cfg := Config{Extra: map[string]any{"subreddit": "cryptocurrency", "empty": ""}}
	if got := cfg.ExtraString("subreddit", "x"); got != "cryptocurrency" {
		t.Errorf("got %q", got)
	}
	if got := cfg.ExtraString("empty", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
	if got := cfg.ExtraString("missing", "fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}
