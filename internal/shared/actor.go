package shared

import "context"

// Role names the four kinds of actors that drive an order through its lifecycle.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleProduction Role = "production"
	RoleBranch     Role = "branch"
	RoleChef       Role = "chef"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleProduction, RoleBranch, RoleChef:
		return true
	default:
		return false
	}
}

// Actor identifies the authenticated caller of an operation. Authentication
// itself happens upstream; the engine only consumes the resolved identity.
type Actor struct {
	ID       int64
	Role     Role
	BranchID int64
	Username string
}

// HasRole reports whether the actor holds any of the given roles.
func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by the identity middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// MustActor returns the actor from the context. Routes behind the identity
// middleware always carry one; anywhere else the zero Actor comes back and
// holds no role.
func MustActor(ctx context.Context) Actor {
	actor, _ := ActorFromContext(ctx)
	return actor
}

type langContextKey struct{}

// ContextWithLang stores the negotiated display language.
func ContextWithLang(ctx context.Context, lang Lang) context.Context {
	return context.WithValue(ctx, langContextKey{}, lang)
}

// LangFromContext returns the negotiated language, defaulting to Arabic.
func LangFromContext(ctx context.Context) Lang {
	if lang, ok := ctx.Value(langContextKey{}).(Lang); ok {
		return lang
	}
	return LangArabic
}
