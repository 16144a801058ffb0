package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/mediaforge/mediaforge/internal/api/response"
)

// BearerSecret guards machine-to-machine routes (cron jobs, the poller) with
// a shared bearer token.
func BearerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !MatchesSecret(r, secret) {
				response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MatchesSecret reports whether the request carries "Bearer <secret>". An
// empty secret never matches.
func MatchesSecret(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	token := extractBearerToken(r)
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
