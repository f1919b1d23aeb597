// ABOUTME: Token store interface plus in-memory and SQLite-backed implementations
// ABOUTME: Stores resolve bearer values to scopes, expiry, revocation, and owner

package oauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/toolbridge/internal/store"
)

// ErrTokenNotFound indicates the bearer value was never issued.
var ErrTokenNotFound = errors.New("token not found")

var errTokenUnusable = errors.New("token expired or revoked")

// TokenRecord is what a store knows about a bearer token.
type TokenRecord struct {
	PrincipalID string
	ClientID    string
	Scopes      []string
	ExpiresAt   time.Time
	Revoked     bool
}

// Expired reports whether the token is past its expiry at now.
func (t *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenStore resolves bearer token values.
type TokenStore interface {
	Resolve(ctx context.Context, bearer string) (*TokenRecord, error)
}

// lookupBearer implements auth.BearerLookup on top of Resolve: only usable
// tokens identify a principal.
func lookupBearer(ctx context.Context, ts TokenStore, bearer string) (string, error) {
	rec, err := ts.Resolve(ctx, bearer)
	if err != nil {
		return "", err
	}
	if rec.Revoked || rec.Expired(time.Now()) {
		return "", errTokenUnusable
	}
	return rec.PrincipalID, nil
}

// MemoryTokenStore keeps tokens in memory. Useful for tests and ephemeral setups.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*TokenRecord
}

// NewMemoryTokenStore creates an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*TokenRecord)}
}

// Issue creates a new random token for rec and returns its value.
func (s *MemoryTokenStore) Issue(rec TokenRecord) string {
	value := uuid.New().String()
	s.Put(value, rec)
	return value
}

// Put stores rec under a known value.
func (s *MemoryTokenStore) Put(value string, rec TokenRecord) {
	rec.Scopes = slices.Clone(rec.Scopes)

	s.mu.Lock()
	s.tokens[value] = &rec
	s.mu.Unlock()
}

// Resolve implements TokenStore. The returned record is a copy.
func (s *MemoryTokenStore) Resolve(_ context.Context, bearer string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[bearer]
	if !ok {
		return nil, ErrTokenNotFound
	}
	out := *rec
	out.Scopes = slices.Clone(rec.Scopes)
	return &out, nil
}

// Revoke marks a token revoked.
func (s *MemoryTokenStore) Revoke(bearer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[bearer]
	if ok {
		rec.Revoked = true
	}
	return ok
}

// TokenCount returns the number of stored tokens (for monitoring).
func (s *MemoryTokenStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// LookupBearer implements auth.BearerLookup.
func (s *MemoryTokenStore) LookupBearer(ctx context.Context, bearer string) (string, error) {
	return lookupBearer(ctx, s, bearer)
}

// SQLTokenStore resolves tokens from the SQLite store.
type SQLTokenStore struct {
	tokens store.TokenStore
}

// NewSQLTokenStore wraps a persistent token store.
func NewSQLTokenStore(tokens store.TokenStore) *SQLTokenStore {
	return &SQLTokenStore{tokens: tokens}
}

// Resolve implements TokenStore.
func (s *SQLTokenStore) Resolve(ctx context.Context, bearer string) (*TokenRecord, error) {
	tok, err := s.tokens.GetToken(ctx, bearer)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	return &TokenRecord{
		PrincipalID: tok.PrincipalID,
		ClientID:    tok.ClientID,
		Scopes:      tok.Scopes,
		ExpiresAt:   tok.ExpiresAt,
		Revoked:     tok.Revoked,
	}, nil
}

// LookupBearer implements auth.BearerLookup.
func (s *SQLTokenStore) LookupBearer(ctx context.Context, bearer string) (string, error) {
	return lookupBearer(ctx, s, bearer)
}

// IssueRequest describes a token to issue.
type IssueRequest struct {
	PrincipalID string
	ClientID    string
	Scopes      []string
	TTL         time.Duration
}

// Issue creates and persists a new token, returning its value. Unknown
// scopes are rejected.
func (s *SQLTokenStore) Issue(ctx context.Context, req IssueRequest) (string, *store.OAuthToken, error) {
	if err := ValidateScopes(req.Scopes); err != nil {
		return "", nil, err
	}
	if req.TTL <= 0 {
		return "", nil, errors.New("token ttl must be positive")
	}
	now := time.Now().UTC()
	value := "tb_" + uuid.New().String()
	tok := &store.OAuthToken{
		PrincipalID: req.PrincipalID,
		ClientID:    req.ClientID,
		Scopes:      slices.Clone(req.Scopes),
		ExpiresAt:   now.Add(req.TTL),
		CreatedAt:   now,
	}
	if err := s.tokens.CreateToken(ctx, value, tok); err != nil {
		return "", nil, err
	}
	return value, tok, nil
}
