package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/keywatch/internal/core"
	"github.com/newthinker/keywatch/internal/metrics"
	"go.uber.org/zap"
)

type stubApp struct {
	watchlist []string
}

func (a *stubApp) Collectors() []string { return []string{"trends"} }

func (a *stubApp) Query(ctx context.Context, collector, keyword string, start, end time.Time) ([]core.SampleRow, error) {
	return []core.SampleRow{{Time: start, Value: 1}}, nil
}

func (a *stubApp) Coverage(ctx context.Context, collector, keyword string) ([]core.TimeInterval, error) {
	return nil, nil
}

func (a *stubApp) Export(ctx context.Context, collector, keyword string, start, end time.Time) (string, error) {
	return "trends/" + keyword + ".json", nil
}

func (a *stubApp) GetWatchlist() []string { return a.watchlist }

func (a *stubApp) AddToWatchlist(keyword string) bool {
	a.watchlist = append(a.watchlist, keyword)
	return true
}

func (a *stubApp) RemoveFromWatchlist(keyword string) bool {
	for i, k := range a.watchlist {
		if k == keyword {
			a.watchlist = append(a.watchlist[:i], a.watchlist[i+1:]...)
			return true
		}
	}
	return false
}

func newTestServer(t *testing.T, cfg Config, deps Dependencies) *Server {
	t.Helper()
	if deps.App == nil {
		deps.App = &stubApp{}
	}
	cfg.Host = "localhost"
	srv, err := NewServer(cfg, deps, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, Config{}, Dependencies{})

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()

	srv.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestServer_RequiresApp(t *testing.T) {
	if _, err := NewServer(Config{}, Dependencies{}, nil); err == nil {
		t.Error("expected error without app")
	}
}

func TestServer_APIAuth_Required(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "test-key"}, Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/collectors", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", w.Code)
	}

	// health stays open
	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected open health check, got %d", w.Code)
	}
}

func TestServer_APIAuth_ValidKey(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "test-key"}, Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/series?collector=trends&keyword=btc&start=2024-01-01", nil)
	req.Header.Set("X-API-Key", "test-key")
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_APIAuth_Disabled(t *testing.T) {
	srv := newTestServer(t, Config{}, Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/collectors", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with disabled auth, got %d", w.Code)
	}
}

func TestServer_WatchlistRoutes(t *testing.T) {
	a := &stubApp{watchlist: []string{"btc"}}
	srv := newTestServer(t, Config{}, Dependencies{App: a})

	req := httptest.NewRequest("DELETE", "/api/v1/watchlist/btc", nil)
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if len(a.watchlist) != 0 {
		t.Errorf("expected keyword removed, got %v", a.watchlist)
	}

	req = httptest.NewRequest("PUT", "/api/v1/watchlist", nil)
	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestServer_ExportRoute(t *testing.T) {
	srv := newTestServer(t, Config{}, Dependencies{})

	req := httptest.NewRequest("POST", "/api/v1/exports",
		strings.NewReader(`{"collector":"trends","keyword":"btc","start":"2024-01-01"}`))
	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := metrics.NewRegistry()
	srv := newTestServer(t, Config{MetricsPath: "/metrics"}, Dependencies{Metrics: reg})

	// through the full handler chain so the request is counted
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/collectors", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	w = httptest.NewRecorder()
	srv.mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("expected http_requests_total in metrics output")
	}
}
