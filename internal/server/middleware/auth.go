package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alanyoungcy/agentvault/internal/domain"
)

// Auth guards operator routes (audit log, archive trigger) with a static API
// key sent as a Bearer token or in X-API-Key. An empty apiKey disables the
// check, which is only sensible for local development.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			switch {
			case token == "":
				writeError(w, http.StatusUnauthorized, "Unauthorized", domain.KindAuthorization, "missing api key")
			case subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1:
				writeError(w, http.StatusUnauthorized, "Unauthorized", domain.KindAuthorization, "invalid api key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// extractToken reads Authorization: Bearer first, then X-API-Key.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// writeError writes the same {code, kind, message} body the handlers use.
func writeError(w http.ResponseWriter, status int, code string, kind domain.ErrorKind, msg string) {
	body, _ := json.Marshal(map[string]string{"code": code, "kind": string(kind), "message": msg})
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
