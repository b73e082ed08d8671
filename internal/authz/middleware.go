package authz

import (
	"log/slog"
	"net/http"

	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Middleware resolves the session user into an Actor.
type Middleware struct {
	Users  RoleSource
	Logger *slog.Logger
}

// Authenticate rejects requests without a signed-in, active user.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == 0 {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
			return
		}
		user, err := m.Users.FindByID(r.Context(), sess.User())
		if err != nil && !shared.IsNotFound(err) {
			if m.Logger != nil {
				m.Logger.Error("authz load actor", slog.Any("error", err))
			}
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
		actor, err := ActorFromUser(user)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "account is not active")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
