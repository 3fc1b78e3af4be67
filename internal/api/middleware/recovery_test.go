package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecovererPanicReturns500(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	// Panic mid event, after headers would normally be decided.
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("channel map corrupted")
	}))

	body := `{"event":"hangup","unique_id":"1756400000.42"}`
	req := httptest.NewRequest(http.MethodPost, "/agent/events", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var env mwEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Error != "internal server error" {
		t.Errorf("error = %q, want internal server error", env.Error)
	}

	entry := lastLogEntry(t, buf)
	if entry["msg"] != "panic recovered" {
		t.Errorf("msg = %v, want panic recovered", entry["msg"])
	}
	if entry["panic"] != "channel map corrupted" {
		t.Errorf("panic = %v, want channel map corrupted", entry["panic"])
	}
	if entry["path"] != "/agent/events" {
		t.Errorf("path = %v, want /agent/events", entry["path"])
	}
	stack, _ := entry["stack"].(string)
	if stack == "" {
		t.Error("log entry missing stack trace")
	}
}

func TestRecovererPassThrough(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":1}}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
	if got := rr.Body.String(); got != `{"data":{"id":1}}` {
		t.Errorf("body = %q", got)
	}
}

func TestRecovererAbortHandlerPropagates(t *testing.T) {
	handler := Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if recover() == nil {
			t.Error("ErrAbortHandler swallowed, want re-panic")
		}
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
}
