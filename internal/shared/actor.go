package shared

import "context"

// Role enumerates the roles the auth collaborator can hand us.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
)

// Valid reports whether the role is one we recognise.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleAccountant:
		return true
	}
	return false
}

// Actor is the resolved identity of the current caller. OutletID is zero
// for admins, who are not pinned to a single outlet.
type Actor struct {
	ID       int64
	Role     Role
	OutletID int64
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor means
// no authenticated caller.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
