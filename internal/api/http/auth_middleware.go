package httpapi

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// requireGateway checks the bridge's bearer token against the configured
// bcrypt hash. With no hash configured every request is let through.
func (s *Server) requireGateway(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := &Bridge{Name: strings.TrimSpace(r.Header.Get("X-Bridge-Name"))}
		if b.Name == "" {
			b.Name = "bridge"
		}
		if len(s.tokenHash) > 0 {
			token := extractToken(r)
			if token == "" {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}
			if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
				respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token")
				return
			}
			b.Authenticated = true
		}
		ctx := withBridge(r.Context(), b)
		ctx = withParticipant(ctx, strings.TrimSpace(r.Header.Get("X-Participant-ID")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	// EventSource clients cannot set headers.
	return r.URL.Query().Get("access_token")
}
