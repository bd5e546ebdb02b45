package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rxlabels/labelhub/internal/api/response"
)

// Auth validates the static API key sent as "Authorization: Bearer <api-key>".
func Auth(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.RespondUnauthorized(w, "Missing Authorization header")

				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				response.RespondUnauthorized(w, "Invalid Authorization header format. Expected: Bearer <api-key>")

				return
			}

			key := strings.TrimSpace(parts[1])
			if key == "" {
				response.RespondUnauthorized(w, "API key is empty")

				return
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				response.RespondUnauthorized(w, "Invalid API key")

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
