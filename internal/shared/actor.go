package shared

import (
	"context"
	"net/http"
	"strconv"
)

// Role names supplied by the identity collaborator.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Actor identifies who performs a mutating call. Identity and authentication
// live upstream; this service trusts the forwarded headers and only checks
// that role-appropriate calls are being made.
type Actor struct {
	UserID int64
	Role   Role
}

// CanApprove reports whether the actor may approve or reject documents.
func (a Actor) CanApprove() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Headers set by the identity collaborator in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// ActorMiddleware reads the identity headers into the request context.
// Requests without identity pass through; RequireActor guards the routes
// that need one.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err == nil && id > 0 {
			actor := Actor{UserID: id, Role: Role(r.Header.Get(HeaderUserRole))}
			r = r.WithContext(ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireActor rejects requests without a forwarded identity.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFromContext(r.Context()); !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
