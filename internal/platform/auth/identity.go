package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// ErrUnknownPrincipal is returned by resolvers when no shopper or operator owns the email.
var ErrUnknownPrincipal = errors.New("auth: no user registered for principal")

// Identity is the caller of a customer or admin route. UID is the Firebase account; UserID is
// the commerce user it resolved to and is what services receive as the actor.
type Identity struct {
	UID    string
	Email  string
	UserID string
	Roles  []string
}

// HasRole matches role case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return normaliseRole(r) == role })
}

func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

// Principal is the commerce user behind a verified email.
type Principal struct {
	UserID string
	Role   string
}

type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, email string) (Principal, error)
}

type PrincipalResolverFunc func(ctx context.Context, email string) (Principal, error)

func (f PrincipalResolverFunc) ResolvePrincipal(ctx context.Context, email string) (Principal, error) {
	return f(ctx, email)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
