package auth

import (
	"context"
	"net/http"
	"strconv"

	"github.com/coaltech18/hybits-crm/internal/platform/httpx"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// ActorResolver resolves a caller id into an actor.
type ActorResolver interface {
	CurrentUser(ctx context.Context, userID int64) (shared.Actor, error)
}

// Middleware resolves the X-User-ID header into a request-scoped actor.
// The gateway in front of this service authenticates the caller and
// forwards only the id; this layer attaches role and outlet scope.
func Middleware(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
			if err != nil || userID <= 0 {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing or invalid X-User-ID header")
				return
			}
			actor, err := resolver.CurrentUser(r.Context(), userID)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}
