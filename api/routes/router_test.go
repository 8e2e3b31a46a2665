package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/analytics"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	"github.com/pulseboard/pulseboard-backend/pkg/config"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type stubBroker struct{}

func (stubBroker) Publish(context.Context, string, []byte, map[string]string) error { return nil }
func (stubBroker) Subscribe(context.Context, string, broker.Handler) error          { return nil }
func (stubBroker) Connected() bool                                                  { return true }
func (stubBroker) Close() error                                                     { return nil }

type stubAnalytics struct{}

func (stubAnalytics) DailyActiveUsers(context.Context, time.Time, time.Time) ([]analytics.DAURow, error) {
	return nil, nil
}

func (stubAnalytics) TopEvents(context.Context, time.Time, time.Time, int) ([]analytics.TopEventRow, error) {
	return nil, nil
}

func (stubAnalytics) Retention(context.Context, time.Time, int, analytics.WindowType) (*analytics.RetentionCohort, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	cfg := &config.Config{
		App:  config.AppConfig{Env: "dev"},
		Auth: config.AuthConfig{APIKeys: []string{"test-key"}},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	gate, err := ingest.NewGate(stubBroker{}, 10, nil, logg)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	return NewRouter(cfg, logg, nil, nil, nil, nil, stubBroker{}, gate, stubAnalytics{})
}

func TestRouter_HealthOpen(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestRouter_ProtectedRoutesRequireKey(t *testing.T) {
	router := newTestRouter(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/events"},
		{http.MethodGet, "/stats/dau"},
		{http.MethodGet, "/stats/top-events"},
		{http.MethodGet, "/stats/retention"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRouter_IngestWithKey(t *testing.T) {
	router := newTestRouter(t)

	body := `{"events":[{"event_id":"` + uuid.NewString() + `","occurred_at":"2026-08-10T09:00:00Z","user_id":1,"event_type":"login"}]}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_StatsWithKey(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/stats/dau?from_date=2026-08-01&to_date=2026-08-31", nil)
	req.Header.Set("X-API-Key", "test-key")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
