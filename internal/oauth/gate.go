// ABOUTME: OAuth gate deciding whether an invocation may proceed
// ABOUTME: Produces 401/403 decisions with RFC 6750 WWW-Authenticate challenges

package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/2389/toolbridge/internal/auth"
	"github.com/2389/toolbridge/internal/tool"
)

// DefaultRealm is the realm advertised in challenges.
const DefaultRealm = "MCP Tools"

// Outer error codes produced by the gate.
const (
	CodeUnauthenticated   = "unauthenticated"
	CodeInvalidToken      = "invalid_token"
	CodeInsufficientScope = "insufficient_scope"
)

const invalidTokenDescription = "The access token is invalid or expired"

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed   bool
	Status    int    // HTTP status when denied
	Code      string // outer error code when denied
	Message   string
	Challenge string // WWW-Authenticate value when denied

	RequiredScopes []string
	MissingScopes  []string
	CurrentScopes  []string

	// Token is the resolved bearer token, when one was presented and valid.
	Token *TokenRecord
}

// GateConfig configures a Gate.
type GateConfig struct {
	Tokens TokenStore
	Realm  string
	// ResourceMetadataURL is appended to challenges when set.
	ResourceMetadataURL string
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Gate evaluates bearer tokens against a tool's auth requirement.
type Gate struct {
	tokens      TokenStore
	realm       string
	metadataURL string
	logger      *slog.Logger
	now         func() time.Time
}

// NewGate creates a Gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token store is required")
	}
	realm := cfg.Realm
	if realm == "" {
		realm = DefaultRealm
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		tokens:      cfg.Tokens,
		realm:       realm,
		metadataURL: cfg.ResourceMetadataURL,
		logger:      logger,
		now:         now,
	}, nil
}

// Authorize decides whether principal may invoke a tool with requirement req.
// authorization is the raw Authorization header value.
func (g *Gate) Authorize(ctx context.Context, req tool.AuthRequirement, principal *auth.Principal, authorization string) Decision {
	bearer, hasBearer := auth.ExtractBearerToken(authorization)
	anonymous := principal.IsAnonymous() && !hasBearer

	if req.Level == tool.AuthRequired && anonymous {
		return g.unauthenticated("Authentication required to invoke this tool")
	}
	if len(req.Scopes) > 0 && !hasBearer {
		return g.unauthenticated("A bearer token with the required scopes is needed")
	}
	if !hasBearer {
		return Decision{Allowed: true}
	}

	rec, err := g.tokens.Resolve(ctx, bearer)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return g.invalidToken(invalidTokenDescription)
	case err != nil:
		g.logger.Error("token validation failed", "error", err)
		return g.invalidToken("Fatal server error")
	case rec.Revoked, rec.Expired(g.now()):
		return g.invalidToken(invalidTokenDescription)
	}

	missing := missingScopes(req.Scopes, rec.Scopes)
	if len(missing) > 0 {
		return Decision{
			Status:         http.StatusForbidden,
			Code:           CodeInsufficientScope,
			Message:        fmt.Sprintf("Insufficient OAuth scopes. Missing: %s", strings.Join(missing, ", ")),
			Challenge:      g.challenge(`error="insufficient_scope"`, fmt.Sprintf("scope=%q", strings.Join(missing, " "))),
			RequiredScopes: slices.Clone(req.Scopes),
			MissingScopes:  missing,
			CurrentScopes:  slices.Clone(rec.Scopes),
		}
	}

	return Decision{Allowed: true, Token: rec}
}

func (g *Gate) unauthenticated(message string) Decision {
	return Decision{
		Status:    http.StatusUnauthorized,
		Code:      CodeUnauthenticated,
		Message:   message,
		Challenge: g.challenge(),
	}
}

func (g *Gate) invalidToken(description string) Decision {
	return Decision{
		Status:    http.StatusUnauthorized,
		Code:      CodeInvalidToken,
		Message:   description,
		Challenge: g.challenge(`error="invalid_token"`, fmt.Sprintf("error_description=%q", description)),
	}
}

// challenge builds a Bearer WWW-Authenticate value from auth-params.
func (g *Gate) challenge(params ...string) string {
	parts := []string{fmt.Sprintf("realm=%q", g.realm)}
	parts = append(parts, params...)
	if g.metadataURL != "" {
		parts = append(parts, fmt.Sprintf("resource_metadata=%q", g.metadataURL))
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// missingScopes returns required minus granted, in required order.
func missingScopes(required, granted []string) []string {
	var missing []string
	for _, s := range required {
		if !slices.Contains(granted, s) {
			missing = append(missing, s)
		}
	}
	return missing
}
