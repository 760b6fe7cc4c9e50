package trends

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/collector"
	"github.com/newthinker/keywatch/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jan1 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestCollector_ImplementsCollector(t *testing.T) {
	var _ collector.Collector = (*Collector)(nil)
}

const exploreBody = `)]}'
{"widgets":[
  {"id":"GEO_MAP","token":"geo-token","request":{"geo":{}}},
  {"id":"TIMESERIES","token":"ts-token","request":{"time":"2024-01-01T00 2024-01-01T03","resolution":"HOUR"}}
]}`

const timelineBody = `)]}',
{"default":{"timelineData":[
  {"time":"1704067200","value":[40],"hasData":[true]},
  {"time":"1704070800","value":[100],"hasData":[true]},
  {"time":"1704074400","value":[55],"hasData":[true],"isPartial":true}
]}}`

func newTestCollector(t *testing.T, handler http.HandlerFunc) *Collector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(collector.Config{
		BaseURL: server.URL,
		Extra:   map[string]any{"category": "7", "geo": "US"},
	}, nil)
	require.NoError(t, err)
	c.client.SetRetryCount(0)
	return c
}

func TestCollector_Fetch(t *testing.T) {
	var explored exploreRequest
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trends/api/explore":
			assert.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("req")), &explored))
			w.Write([]byte(exploreBody))
		case "/trends/api/widgetdata/multiline":
			assert.Equal(t, "ts-token", r.URL.Query().Get("token"))
			assert.JSONEq(t, `{"time":"2024-01-01T00 2024-01-01T03","resolution":"HOUR"}`, r.URL.Query().Get("req"))
			w.Write([]byte(timelineBody))
		default:
			http.NotFound(w, r)
		}
	})

	iv := core.TimeInterval{Start: jan1, End: jan1.Add(3 * time.Hour)}
	rows, err := c.Fetch(context.Background(), iv, "bitcoin")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Len(t, explored.ComparisonItem, 1)
	assert.Equal(t, "bitcoin", explored.ComparisonItem[0].Keyword)
	assert.Equal(t, "US", explored.ComparisonItem[0].Geo)
	assert.Equal(t, "2024-01-01T00 2024-01-01T03", explored.ComparisonItem[0].Time)
	assert.Equal(t, 7, explored.Category)

	assert.Equal(t, jan1, rows[0].Time)
	assert.Equal(t, 40.0, rows[0].Value)
	assert.Equal(t, "bitcoin", rows[0].Keyword)
	assert.False(t, rows[1].Partial)
	assert.True(t, rows[2].Partial)
	assert.Equal(t, jan1.Add(2*time.Hour), rows[2].Time)
}

func TestCollector_Fetch_RateLimited(t *testing.T) {
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Fetch(context.Background(), core.TimeInterval{Start: jan1, End: jan1.Add(time.Hour)}, "bitcoin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRateLimited))

	hint, ok := core.RetryAfterHint(err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, hint)
}

func TestCollector_Fetch_ServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Fetch(context.Background(), core.TimeInterval{Start: jan1, End: jan1.Add(time.Hour)}, "bitcoin")
	assert.True(t, errors.Is(err, core.ErrSourceTransient))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCollector_Fetch_MissingWidget(t *testing.T) {
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`)]}'` + "\n" + `{"widgets":[]}`))
	})

	_, err := c.Fetch(context.Background(), core.TimeInterval{Start: jan1, End: jan1.Add(time.Hour)}, "bitcoin")
	assert.True(t, errors.Is(err, core.ErrSourceTransient))
}

func TestCollector_Fetch_EmptyTimeline(t *testing.T) {
	c := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/trends/api/explore" {
			w.Write([]byte(exploreBody))
			return
		}
		w.Write([]byte(`)]}',` + "\n" + `{"default":{"timelineData":[]}}`))
	})

	rows, err := c.Fetch(context.Background(), core.TimeInterval{Start: jan1, End: jan1.Add(time.Hour)}, "obscure")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestNew_InvalidCategory(t *testing.T) {
	_, err := New(collector.Config{Extra: map[string]any{"category": "crypto"}}, nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

func TestValidateWindow(t *testing.T) {
	assert.NoError(t, ValidateWindow(48*time.Hour, 24*time.Hour))
	assert.NoError(t, ValidateWindow(6*24*time.Hour, 24*time.Hour))
	assert.True(t, errors.Is(ValidateWindow(7*24*time.Hour, time.Hour), core.ErrConfigInvalid))
}

func TestTimeframe(t *testing.T) {
	iv := core.TimeInterval{Start: jan1.Add(-24 * time.Hour), End: jan1.Add(48 * time.Hour)}
	assert.Equal(t, "2023-12-31T00 2024-01-03T00", Timeframe(iv))
}

func TestStripXSSI(t *testing.T) {
	assert.Equal(t, `{"a":1}`, string(stripXSSI([]byte(")]}'\n{\"a\":1}"))))
	assert.Equal(t, `{"a":1}`, string(stripXSSI([]byte(")]}',\n{\"a\":1}"))))
	assert.Equal(t, `{"a":1}`, string(stripXSSI([]byte(`{"a":1}`))))
}
