// ABOUTME: HTTP middleware resolving the calling principal from bearer or session cookie
// ABOUTME: Never rejects; unresolvable credentials degrade to the anonymous principal

package auth

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/toolbridge/internal/store"
)

// DefaultSessionCookie is the cookie carrying the session JWT.
const DefaultSessionCookie = "toolbridge_session"

// PrincipalStore loads principals by ID.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*store.Principal, error)
}

// BearerLookup maps a bearer token to the principal that owns it.
type BearerLookup interface {
	LookupBearer(ctx context.Context, token string) (principalID string, err error)
}

// ResolverConfig configures ResolvePrincipal.
type ResolverConfig struct {
	Principals           PrincipalStore
	Bearers              BearerLookup    // optional
	Sessions             SessionVerifier // optional
	CookieName           string
	AnonymousPermissions []string
	Logger               *slog.Logger
}

// ExtractBearerToken extracts a bearer token from an Authorization header value.
func ExtractBearerToken(authHeader string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// buildPrincipal converts a stored principal, merging in anonymous grants so
// signing in never loses access.
func buildPrincipal(p *store.Principal, anonymous []string) *Principal {
	perms := make([]string, 0, len(p.Permissions)+len(anonymous))
	perms = append(perms, p.Permissions...)
	for _, a := range anonymous {
		if !slices.Contains(perms, a) {
			perms = append(perms, a)
		}
	}
	return &Principal{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Roles:       append([]string(nil), p.Roles...),
		Permissions: perms,
	}
}

// ResolvePrincipal creates an HTTP middleware that attaches a *Principal to
// every request. A bearer header is tried first, then the session cookie.
func ResolvePrincipal(cfg ResolverConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			principal := Anonymous(cfg.AnonymousPermissions)

			principalID := ""
			if token, ok := ExtractBearerToken(r.Header.Get("Authorization")); ok {
				ctx = WithBearer(ctx, token)
				if cfg.Bearers != nil {
					id, err := cfg.Bearers.LookupBearer(ctx, token)
					if err != nil {
						logger.Debug("bearer did not resolve", "error", err)
					}
					principalID = id
				}
			} else if cfg.Sessions != nil {
				if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
					id, err := cfg.Sessions.Verify(cookie.Value)
					if err != nil {
						logger.Debug("session cookie rejected", "error", err)
					}
					principalID = id
				}
			}

			if principalID != "" && cfg.Principals != nil {
				stored, err := cfg.Principals.GetPrincipal(ctx, principalID)
				switch {
				case err != nil:
					logger.Debug("principal lookup failed", "principal_id", principalID, "error", err)
				case stored.Status != store.PrincipalStatusActive:
					logger.Debug("principal not active", "principal_id", principalID, "status", stored.Status)
				default:
					principal = buildPrincipal(stored, cfg.AnonymousPermissions)
				}
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// RequireAdminHTTP rejects requests whose principal lacks the admin or owner role.
// Must be used after ResolvePrincipal.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			if p.IsAnonymous() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"unauthenticated","message":"authentication required"}}`))
				return
			}
			if !p.IsAdmin() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"forbidden","message":"admin role required"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
