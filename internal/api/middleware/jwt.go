package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// agentContextKey is the context key type for agent auth values.
type agentContextKey string

const agentNameKey agentContextKey = "agent_name"

// agentTokenTTL is the lifetime of an agent JWT. Agents are long-lived
// services, so tokens are issued for a year and rotated by reissuing.
const agentTokenTTL = 365 * 24 * time.Hour

// AgentClaims holds the JWT claims of a switch agent.
type AgentClaims struct {
	Agent string `json:"agent"`
	jwt.RegisteredClaims
}

// GenerateAgentToken creates a signed JWT an agent presents on every
// request.
func GenerateAgentToken(secret []byte, agentName string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(agentTokenTTL)

	claims := AgentClaims{
		Agent: agentName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "pbxlink",
			Subject:   agentName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// RequireAgentAuth returns middleware that validates JWT bearer tokens on
// the agent endpoints. On success it stores the agent name in the request
// context.
func RequireAgentAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMWError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeMWError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &AgentClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("agent auth: invalid jwt", "error", err)
				writeMWError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.Agent == "" {
				writeMWError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), agentNameKey, claims.Agent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AgentFromContext retrieves the authenticated agent name from the request
// context. Returns "" if not set.
func AgentFromContext(ctx context.Context) string {
	name, _ := ctx.Value(agentNameKey).(string)
	return name
}

// mwEnvelope matches the api package's envelope format for error responses.
type mwEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeMWError writes a JSON error matching the API envelope format.
func writeMWError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(mwEnvelope{Error: msg}) //nolint:errcheck
}
