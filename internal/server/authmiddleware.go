package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/tjfontaine/carelog/internal/auth"
	"github.com/tjfontaine/carelog/internal/domain"
)

// UserIDHeader identifies the caller when no JWT secret is configured.
const UserIDHeader = "X-User-ID"

// InternalTokenHeader guards /internal routes.
const InternalTokenHeader = "X-Internal-Token"

type userIDKey struct{}

// AuthMiddleware resolves the calling user. With an Authenticator the
// user is the "sub" of a bearer JWT; without one (development mode) the
// X-User-ID header is trusted.
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if authenticator == nil {
				userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
				if userID == "" {
					writeError(w, r, domain.ErrAuthentication("missing "+UserIDHeader+" header"))
					return
				}
			} else {
				token, err := auth.ExtractBearerToken(r)
				if err != nil {
					writeError(w, r, domain.ErrAuthentication(err.Error()))
					return
				}
				if userID, err = authenticator.Verify(token); err != nil {
					AddError(r.Context(), err)
					writeError(w, r, domain.ErrAuthentication("invalid token"))
					return
				}
			}

			AddLogField(r.Context(), "user_id", userID)
			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalTokenMiddleware admits requests carrying the configured shared
// token. With no token configured every request is rejected.
func InternalTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.TokenMatches(r.Header.Get(InternalTokenHeader), token) {
				writeError(w, r, domain.ErrAuthentication("invalid internal token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID retrieves the authenticated user from context.
// Returns an empty string outside AuthMiddleware.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	return ""
}
