// ABOUTME: Infers a tool's authentication requirement from its annotations
// ABOUTME: Explicit level wins, scopes imply required, otherwise none

package tool

import "github.com/2389/toolbridge/internal/registry"

// AuthLevel is how strongly a tool requires authentication.
type AuthLevel string

const (
	AuthNone     AuthLevel = "none"
	AuthOptional AuthLevel = "optional"
	AuthRequired AuthLevel = "required"
)

// AuthRequirement is the resolved annotations.auth block.
type AuthRequirement struct {
	Level       AuthLevel
	Scopes      []string
	Description string
}

// ResolveAuth reads annotations["auth"]. It is total: malformed values are
// treated as absent.
func ResolveAuth(annotations map[string]any) AuthRequirement {
	raw, ok := annotations["auth"]
	if !ok {
		return AuthRequirement{Level: AuthNone}
	}
	authMap, ok := raw.(map[string]any)
	if !ok {
		return AuthRequirement{Level: AuthNone}
	}

	req := AuthRequirement{Scopes: stringList(authMap["scopes"])}
	if desc, ok := authMap["description"].(string); ok {
		req.Description = desc
	}

	if level, ok := parseLevel(authMap["level"]); ok {
		req.Level = level
	} else if len(req.Scopes) > 0 {
		req.Level = AuthRequired
	} else {
		req.Level = AuthNone
	}
	return req
}

// RequirementFor resolves the requirement of an extension, which may be nil.
func RequirementFor(ext *registry.Extension) AuthRequirement {
	if ext == nil {
		return AuthRequirement{Level: AuthNone}
	}
	return ResolveAuth(ext.Annotations)
}

func parseLevel(v any) (AuthLevel, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch level := AuthLevel(s); level {
	case AuthNone, AuthOptional, AuthRequired:
		return level, true
	default:
		return "", false
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
