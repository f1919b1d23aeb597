// ABOUTME: Record types, sentinel errors, and interfaces for toolbridge persistence
// ABOUTME: Defines Principal, OAuthToken, Invocation, Article and ContentType

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an entity with the same key already exists
var ErrDuplicate = errors.New("already exists")

// PrincipalStatus is the lifecycle state of a principal.
type PrincipalStatus string

const (
	PrincipalStatusActive   PrincipalStatus = "active"
	PrincipalStatusDisabled PrincipalStatus = "disabled"
)

// Principal is a caller identity.
type Principal struct {
	ID          string
	DisplayName string
	Status      PrincipalStatus
	Roles       []string
	Permissions []string
	CreatedAt   time.Time
}

// OAuthToken is an issued bearer token. The token value itself is never stored.
type OAuthToken struct {
	Hash        string // hex SHA-256 of the token value
	PrincipalID string
	ClientID    string
	Scopes      []string
	ExpiresAt   time.Time
	Revoked     bool
	CreatedAt   time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Invocation is an audit record of a tool invocation.
type Invocation struct {
	ID            string
	ToolName      string
	PrincipalID   string // empty for anonymous
	CorrelationID string
	Outcome       string // "ok" or an error code
	Duration      time.Duration
	CreatedAt     time.Time
}

// Article is a piece of content exposed by the example procedures.
type Article struct {
	ID          int64
	Title       string
	Body        string // markdown
	ContentType string
	Author      string
	Published   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContentType describes a kind of content.
type ContentType struct {
	ID          string
	Label       string
	Description string
}

// PrincipalStore persists principals.
type PrincipalStore interface {
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
	ListPrincipals(ctx context.Context) ([]*Principal, error)
	CountPrincipals(ctx context.Context) (int, error)
	UpdatePrincipalStatus(ctx context.Context, id string, status PrincipalStatus) error
	DeletePrincipal(ctx context.Context, id string) error
}

// TokenStore persists OAuth bearer tokens.
type TokenStore interface {
	CreateToken(ctx context.Context, value string, token *OAuthToken) error
	GetToken(ctx context.Context, value string) (*OAuthToken, error)
	RevokeToken(ctx context.Context, value string) error
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// InvocationStore persists the invocation audit log.
type InvocationStore interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
	ListInvocations(ctx context.Context, limit int) ([]*Invocation, error)
}

// ContentStore persists example content.
type ContentStore interface {
	CreateArticle(ctx context.Context, a *Article) error
	GetArticle(ctx context.Context, id int64) (*Article, error)
	ListArticles(ctx context.Context, contentType string, offset, limit int) ([]*Article, error)
	CountArticles(ctx context.Context) (int, error)
	UpsertContentType(ctx context.Context, ct *ContentType) error
	ListContentTypes(ctx context.Context) ([]*ContentType, error)
}

// Ensure SQLiteStore implements every store interface.
var (
	_ PrincipalStore  = (*SQLiteStore)(nil)
	_ TokenStore      = (*SQLiteStore)(nil)
	_ InvocationStore = (*SQLiteStore)(nil)
	_ ContentStore    = (*SQLiteStore)(nil)
)
