package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/camden-git/albumconverter/logger"
	"github.com/camden-git/albumconverter/models"
	"github.com/camden-git/albumconverter/services"
	"go.uber.org/zap"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// UserContextKey is the key used to store the user object in the request context.
	UserContextKey ContextKey = "user"

	sessionCookieName = "session"
)

// Authenticator resolves a session token to an approved user.
type Authenticator interface {
	Authenticate(token string) (*models.User, error)
}

func sessionToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// AuthMiddleware only lets approved users through. Scripts get a JSON error,
// browsers are sent to the login page.
func AuthMiddleware(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			denyAccess(w, r, http.StatusUnauthorized, "unauthenticated", "You must be logged in to access this page.")
			return
		}

		user, err := auth.Authenticate(token)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNotApproved):
				denyAccess(w, r, http.StatusForbidden, "not_approved", "Your account has not been approved by an administrator yet.")
			case errors.Is(err, services.ErrInvalidToken):
				denyAccess(w, r, http.StatusUnauthorized, "invalid_session", "Your session has expired, please log in again.")
			default:
				logger.Error("failed to authenticate request", zap.Error(err))
				WriteAPIError(w, http.StatusInternalServerError, "internal_error", "could not verify session")
			}
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func denyAccess(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	if isAJAX(r) || r.Header.Get("Upgrade") != "" {
		WriteAPIError(w, status, code, detail)
		return
	}
	redirectWith(w, r, "/login/", flashError(detail))
}

// UserFromContext returns the user stored by AuthMiddleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}
