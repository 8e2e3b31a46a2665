package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/pkg/broker"
	pkgerrors "github.com/pulseboard/pulseboard-backend/pkg/errors"
	"github.com/pulseboard/pulseboard-backend/pkg/logger"
)

type fakeBroker struct {
	connected bool
	publishes int
}

func (f *fakeBroker) Publish(context.Context, string, []byte, map[string]string) error {
	f.publishes++
	return nil
}

func (f *fakeBroker) Subscribe(context.Context, string, broker.Handler) error { return nil }
func (f *fakeBroker) Connected() bool                                         { return f.connected }
func (f *fakeBroker) Close() error                                            { return nil }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestGate(t *testing.T, fb *fakeBroker, maxBatch int) *ingest.Gate {
	t.Helper()
	gate, err := ingest.NewGate(fb, maxBatch, nil, testLogger())
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func ingestBody(n int) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, `{"event_id":"`+uuid.NewString()+`","occurred_at":"2026-08-10T09:00:00Z","user_id":42,"event_type":"login","properties":{"device":"ios"}}`)
	}
	return `{"events":[` + strings.Join(items, ",") + `]}`
}

func decodeErrorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestIngestEvents_Accepted(t *testing.T) {
	fb := &fakeBroker{connected: true}
	handler := IngestEvents(newTestGate(t, fb, 10), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(ingestBody(2)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if fb.publishes != 1 {
		t.Fatalf("expected 1 publish, got %d", fb.publishes)
	}

	var payload struct {
		Data struct {
			Status      string `json:"status"`
			EventsCount int    `json:"events_count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Data.Status != "accepted" || payload.Data.EventsCount != 2 {
		t.Fatalf("unexpected response: %+v", payload.Data)
	}
}

func TestIngestEvents_UserIDZero(t *testing.T) {
	fb := &fakeBroker{connected: true}
	handler := IngestEvents(newTestGate(t, fb, 10), testLogger())

	body := `{"events":[{"event_id":"` + uuid.NewString() + `","occurred_at":"2026-08-10T09:00:00Z","user_id":0,"event_type":"login"}]}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for user_id 0, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestEvents_MalformedBody(t *testing.T) {
	handler := IngestEvents(newTestGate(t, &fakeBroker{connected: true}, 10), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"events": [`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestIngestEvents_MissingFields(t *testing.T) {
	handler := IngestEvents(newTestGate(t, &fakeBroker{connected: true}, 10), testLogger())

	body := `{"events":[{"occurred_at":"2026-08-10T09:00:00Z","user_id":1,"event_type":"login"}]}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestEvents_OversizedBatch(t *testing.T) {
	handler := IngestEvents(newTestGate(t, &fakeBroker{connected: true}, 2), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(ingestBody(3)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != string(pkgerrors.CodeBatchTooLarge) {
		t.Fatalf("unexpected code: %s", code)
	}
}

func TestIngestEvents_BrokerUnavailable(t *testing.T) {
	handler := IngestEvents(newTestGate(t, &fakeBroker{connected: false}, 10), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(ingestBody(1)))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := decodeErrorCode(t, rec.Body.Bytes()); code != string(pkgerrors.CodeBrokerUnavailable) {
		t.Fatalf("unexpected code: %s", code)
	}
}
