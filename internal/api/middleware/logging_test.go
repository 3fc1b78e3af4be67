package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// captureLogs installs a JSON slog handler for the test and restores the
// previous default afterwards.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func lastLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("parsing log entry %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestStructuredLoggerFields(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"call not found"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/999", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["msg"] != "http request" {
		t.Errorf("msg = %v, want http request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/v1/calls/999" {
		t.Errorf("path = %v, want /api/v1/calls/999", entry["path"])
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Errorf("status = %v, want 404", entry["status"])
	}
	if entry["bytes"] != float64(len(`{"error":"call not found"}`)) {
		t.Errorf("bytes = %v, want body length", entry["bytes"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("log entry missing duration_ms")
	}
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	// Handler writes a body without calling WriteHeader; the log should
	// still record 200.
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["status"] != float64(http.StatusOK) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestStructuredLoggerFirstStatusWins(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status = %v, want 201", entry["status"])
	}
}

func TestStructuredLoggerAgentPathLogsAtDebug(t *testing.T) {
	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// At Info level the agent event request produces no log line.
	buf := captureLogs(t, slog.LevelInfo)
	req := httptest.NewRequest(http.MethodPost, "/agent/events", strings.NewReader(`{"event":"new_channel"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if buf.Len() != 0 {
		t.Errorf("agent request logged at info level: %s", buf.String())
	}

	// With Debug enabled the line appears.
	buf = captureLogs(t, slog.LevelDebug)
	req = httptest.NewRequest(http.MethodPost, "/agent/events", strings.NewReader(`{"event":"new_channel"}`))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := lastLogEntry(t, buf)
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %v, want DEBUG", entry["level"])
	}
	if entry["path"] != "/agent/events" {
		t.Errorf("path = %v, want /agent/events", entry["path"])
	}
}
