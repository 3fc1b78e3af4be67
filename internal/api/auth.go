package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pbxlink/pbxlink/internal/api/middleware"
	"github.com/pbxlink/pbxlink/internal/database"
)

// apiSecretHashKey is the system config key holding the argon2id hash of
// the admin API secret.
const apiSecretHashKey = "api_secret_hash"

// requireAPISecret guards the administrative API with the X-API-Key
// header. Until a secret is configured through /setup every request is
// rejected, so a freshly installed server is closed by default.
func (s *Server) requireAPISecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash, err := s.sysConfig.Get(r.Context(), apiSecretHashKey)
		if err != nil {
			slog.Error("reading api secret hash", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if hash == "" {
			writeError(w, http.StatusForbidden, "server not set up, POST /api/v1/setup first")
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ok, err := database.VerifySecret(key, hash)
		if err != nil {
			slog.Error("verifying api secret", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type setupRequest struct {
	APISecret string `json:"api_secret"`
}

// handleSetup stores the admin API secret on first boot. Once a secret
// exists the endpoint refuses, so it cannot be used to take over a
// configured server.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.APISecret) < 16 {
		writeError(w, http.StatusBadRequest, "api_secret must be at least 16 characters")
		return
	}

	existing, err := s.sysConfig.Get(r.Context(), apiSecretHashKey)
	if err != nil {
		slog.Error("reading api secret hash", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if existing != "" {
		writeError(w, http.StatusConflict, "server is already set up")
		return
	}

	hash, err := database.HashSecret(req.APISecret)
	if err != nil {
		slog.Error("hashing api secret", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := s.sysConfig.Set(r.Context(), apiSecretHashKey, hash); err != nil {
		slog.Error("storing api secret hash", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	slog.Info("admin api secret configured")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "configured"})
}

type agentTokenRequest struct {
	Name string `json:"name"`
}

type agentTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// handleAgentToken issues a JWT for a switch agent.
func (s *Server) handleAgentToken(w http.ResponseWriter, r *http.Request) {
	var req agentTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateRequiredStringLen("name", req.Name, maxNameLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	token, expiresAt, err := middleware.GenerateAgentToken(s.jwtSecret, req.Name)
	if err != nil {
		slog.Error("generating agent token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	slog.Info("agent token issued", "agent", req.Name)
	writeJSON(w, http.StatusCreated, agentTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
