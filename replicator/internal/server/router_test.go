package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowlake/flowlake/common/middleware"
	"github.com/flowlake/flowlake/replicator/internal/handlers"
	"github.com/flowlake/flowlake/replicator/internal/scheduler"
)

type mockScheduler struct{}

func (mockScheduler) Status() scheduler.Status {
	return scheduler.Status{State: scheduler.StateIdle, Running: true}
}

type mockWatermark struct{}

func (mockWatermark) Watermark() time.Time { return time.Unix(0, 0).UTC() }

type mockSchema struct{}

func (mockSchema) Ready() bool { return true }

func newTestRouter() http.Handler {
	h := handlers.NewHandler(handlers.Deps{
		Table:     "deltafile_analytics",
		Scheduler: mockScheduler{},
		Watermark: mockWatermark{},
		Schema:    mockSchema{},
	})
	return NewRouter(h, nil)
}

func TestNewRouter(t *testing.T) {
	if newTestRouter() == nil {
		t.Fatal("NewRouter() returned nil")
	}
}

func TestRouter_Endpoints(t *testing.T) {
	router := newTestRouter()

	for _, path := range []string{"/healthz", "/readyz", "/api/v1/status", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("%s returned %d", path, rr.Code)
			}
		})
	}
}

func TestRouter_MetricsExposeReplicatorFamilies(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if !strings.Contains(rr.Body.String(), "flowlake_replicator_") {
		t.Error("/metrics does not expose replicator metrics")
	}
}

func TestRouter_UnknownPath(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.api+json" {
		t.Errorf("Expected JSON:API content type, got %q", ct)
	}

	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Code != "not_found" {
		t.Errorf("Expected a not_found error, got %+v", body.Errors)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := middleware.RequestID(accessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rr.Code)
	}
	out := buf.String()
	for _, want := range []string{`"path":"/readyz"`, `"status":503`, `"request_id":"req-42"`, `"duration_ms":`} {
		if !strings.Contains(out, want) {
			t.Errorf("access log %s missing %s", out, want)
		}
	}
}

func TestRouter_RequestID(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Errorf("Expected request ID to be echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("Expected a generated request ID")
	}
}
