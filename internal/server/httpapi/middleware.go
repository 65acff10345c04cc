package httpapi

import (
	"context"
	"net/http"

	"github.com/fieldline/casesync/internal/common"
)

type contextKey string

const usernameKey contextKey = "username"

// usernameFrom returns the authenticated username stored by requireSession.
func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// requireSession verifies the session token header and stashes the username
// in the request context. Missing or stale tokens come back as an
// invalid_credentials envelope so the client re-validates.
func (s *Server) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(common.SessionTokenHeaderName)
		if token == "" {
			writeFailure(w, codeInvalidCredentials, nil)
			return
		}

		username, err := s.users.VerifyToken(token)
		if err != nil {
			writeFailure(w, codeInvalidCredentials, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), usernameKey, username)))
	})
}
