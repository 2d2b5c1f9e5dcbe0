package api

import (
	"net/http"

	"github.com/kalambet/interview/internal/session"
)

// TokenAuth rejects any request whose token query parameter does not match
// token. It runs before routing, so nothing else sees a rejected request.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !session.TokenMatches(token, r.URL.Query().Get("token")) {
				httpError(w, http.StatusForbidden, "access_denied", "invalid or missing session token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
