package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAgentTokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	token, expiresAt, err := GenerateAgentToken(secret, "asterisk-1")
	if err != nil {
		t.Fatalf("GenerateAgentToken: %v", err)
	}
	if time.Until(expiresAt) < 300*24*time.Hour {
		t.Errorf("expiry %v too soon", expiresAt)
	}

	var gotAgent string
	handler := RequireAgentAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = AgentFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/agent/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotAgent != "asterisk-1" {
		t.Errorf("agent = %q, want asterisk-1", gotAgent)
	}
}

func TestRequireAgentAuthRejects(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	handler := RequireAgentAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without valid token")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic Zm9vOmJhcg=="},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/agent/events", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestRequireAgentAuthWrongSecret(t *testing.T) {
	token, _, err := GenerateAgentToken([]byte("0123456789abcdef0123456789abcdef"), "asterisk-1")
	if err != nil {
		t.Fatalf("GenerateAgentToken: %v", err)
	}

	handler := RequireAgentAuth([]byte("ffffffffffffffffffffffffffffffff"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler reached with token signed by another key")
		}))

	req := httptest.NewRequest(http.MethodPost, "/agent/events", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
