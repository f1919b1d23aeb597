// ABOUTME: Catalogue of OAuth scopes tools may require
// ABOUTME: Token issuance rejects scopes outside this catalogue

package oauth

import (
	"fmt"
	"slices"
)

// Scope describes one OAuth scope.
type Scope struct {
	Name        string
	Label       string
	Description string
}

// ScopeDefinitions lists every known scope.
var ScopeDefinitions = []Scope{
	{Name: "profile", Label: "User Profile", Description: "Access to user profile information"},
	{Name: "content:read", Label: "Read Content", Description: "Read access to published content"},
	{Name: "content:write", Label: "Write Content", Description: "Create and update content"},
	{Name: "content:delete", Label: "Delete Content", Description: "Delete content"},
	{Name: "content_type:read", Label: "Read Content Types", Description: "Access to content type definitions and configuration"},
	{Name: "user:read", Label: "Read Users", Description: "Read user account information"},
	{Name: "user:write", Label: "Write Users", Description: "Create and update user accounts"},
	{Name: "admin:access", Label: "Administrative Access", Description: "Full administrative access to all content and configuration"},
}

// IsValidScope reports whether name is in the catalogue.
func IsValidScope(name string) bool {
	_, ok := ScopeInfo(name)
	return ok
}

// ScopeInfo returns the catalogue entry for name.
func ScopeInfo(name string) (Scope, bool) {
	i := slices.IndexFunc(ScopeDefinitions, func(s Scope) bool { return s.Name == name })
	if i < 0 {
		return Scope{}, false
	}
	return ScopeDefinitions[i], true
}

// ValidateScopes returns an error naming the first unknown scope.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !IsValidScope(s) {
			return fmt.Errorf("unknown scope %q", s)
		}
	}
	return nil
}
