// Package auth resolves who is calling and what they may do.
//
// # Principals
//
// Every request carries a *Principal in its context. Requests without a
// usable credential carry the anonymous principal, which holds only the
// configured anonymous permissions.
//
// # Credentials
//
// Two credentials are recognised, in order:
//
//   - Bearer tokens in the Authorization header, resolved through a
//     BearerLookup (the OAuth token store).
//   - A session cookie holding an HS256 JWT whose "sub" claim is the
//     principal ID.
//
// A credential that fails to resolve degrades to anonymous; the OAuth gate
// decides later whether that is acceptable for the tool being invoked.
//
// # Permissions
//
// PermissionPredicate evaluates a procedure's access list against a
// principal. RoleChecker is the default implementation: all listed
// permissions must be held, and the admin and owner roles hold every
// permission.
package auth
