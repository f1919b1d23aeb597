// ABOUTME: Permission predicate used by discovery and the dispatcher
// ABOUTME: RoleChecker requires every listed permission, admins bypass

package auth

import (
	"context"
)

// PermissionPredicate decides whether a principal may execute a procedure.
type PermissionPredicate interface {
	// Permits reports whether p holds every permission in required.
	Permits(ctx context.Context, p *Principal, required []string) bool
	// IsAnonymous reports whether p carries no credential.
	IsAnonymous(p *Principal) bool
}

// RoleChecker is the default PermissionPredicate.
type RoleChecker struct {
	// AllowEmpty permits procedures with an empty access list. Without it an
	// empty list denies everyone but admins.
	AllowEmpty bool
}

var _ PermissionPredicate = RoleChecker{}

// Permits implements PermissionPredicate.
func (c RoleChecker) Permits(_ context.Context, p *Principal, required []string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	if len(required) == 0 {
		return c.AllowEmpty
	}
	for _, perm := range required {
		if !p.HasPermission(perm) {
			return false
		}
	}
	return true
}

// IsAnonymous implements PermissionPredicate.
func (RoleChecker) IsAnonymous(p *Principal) bool {
	return p.IsAnonymous()
}
