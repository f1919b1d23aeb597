// ABOUTME: Principal identity carried through request handling via context
// ABOUTME: Provides WithPrincipal/FromContext plus the anonymous principal

package auth

import (
	"context"
	"slices"
)

// Principal is the identity a request runs as.
type Principal struct {
	ID          string   // empty for anonymous
	DisplayName string
	Roles       []string
	Permissions []string
}

// Anonymous returns a principal with no identity and the given permissions.
func Anonymous(permissions []string) *Principal {
	return &Principal{
		DisplayName: "anonymous",
		Permissions: slices.Clone(permissions),
	}
}

// IsAnonymous reports whether the principal has no identity.
func (p *Principal) IsAnonymous() bool {
	return p == nil || p.ID == ""
}

// IsAdmin returns true if the principal has admin or owner role.
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == "admin" || r == "owner" {
			return true
		}
	}
	return false
}

// HasPermission reports whether the permission was granted directly.
func (p *Principal) HasPermission(permission string) bool {
	return p != nil && slices.Contains(p.Permissions, permission)
}

type principalContextKey struct{}

// bearerContextKey marks that the request presented a bearer credential,
// whether or not it resolved.
type bearerContextKey struct{}

// WithPrincipal returns a new context with the principal attached.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the principal, returning nil if not present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

// PrincipalOrAnonymous retrieves the principal, falling back to an anonymous
// principal without permissions.
func PrincipalOrAnonymous(ctx context.Context) *Principal {
	if p := FromContext(ctx); p != nil {
		return p
	}
	return Anonymous(nil)
}

// WithBearer records the raw bearer token presented with the request.
func WithBearer(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerContextKey{}, token)
}

// BearerFromContext returns the bearer token presented with the request.
func BearerFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerContextKey{}).(string)
	return token, ok && token != ""
}
