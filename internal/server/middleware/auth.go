package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthConfig selects how API tokens are verified. A bcrypt hash takes
// precedence over a plain key; with neither set every request passes.
type AuthConfig struct {
	APIKey     string
	APIKeyHash string
	// Public paths skip authentication entirely.
	Public []string
}

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a key in the X-API-Key header.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	verify := verifier(cfg)
	public := make(map[string]bool, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		if verify == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if !verify(token) {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifier(cfg AuthConfig) func(token string) bool {
	switch {
	case cfg.APIKeyHash != "":
		hash := []byte(cfg.APIKeyHash)
		return func(token string) bool {
			return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
		}
	case cfg.APIKey != "":
		key := []byte(cfg.APIKey)
		return func(token string) bool {
			return subtle.ConstantTimeCompare([]byte(token), key) == 1
		}
	default:
		return nil
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header. Browsers cannot set headers on a WebSocket
// handshake, so /ws also accepts ?token=.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("token")
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
