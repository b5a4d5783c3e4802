package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerMiddlewareLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	handler := InjectLoggerMiddleware(logger)(
		RequestLoggerMiddleware("test-project")(
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"route_not_found"}`))
			}),
		),
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord-404", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected start and completion entries got %d", len(entries))
	}
	if entries[0].Message != "request started" {
		t.Fatalf("unexpected first entry %q", entries[0].Message)
	}

	done := entries[1]
	if done.Level != zapcore.WarnLevel {
		t.Fatalf("expected 4xx completion at warn level got %s", done.Level)
	}
	fields := done.ContextMap()
	if fields["status"] != int64(http.StatusNotFound) {
		t.Fatalf("unexpected status field %v", fields["status"])
	}
	if fields["bytes"].(int64) <= 0 {
		t.Fatalf("expected written byte count got %v", fields["bytes"])
	}
	if fields["method"] != "GET" {
		t.Fatalf("unexpected method field %v", fields["method"])
	}
}

func TestRecoveryMiddlewareWritesErrorEnvelope(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	fallback := zap.New(core)

	handler := RecoveryMiddleware(fallback)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}

	var payload struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload.Error != "internal_server_error" || payload.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected error payload %+v", payload)
	}

	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestStatusWriterDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}

	if _, err := sw.Write([]byte("ok")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if sw.Status() != http.StatusOK {
		t.Fatalf("expected implicit 200 got %d", sw.Status())
	}
	if sw.Written() != 2 {
		t.Fatalf("expected 2 bytes got %d", sw.Written())
	}
}
