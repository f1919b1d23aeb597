// ABOUTME: OAuth bearer token persistence keyed by SHA-256 of the token value
// ABOUTME: Supports issue, lookup, revoke, and expiry sweeping

package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// HashToken returns the storage key for a token value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CreateToken stores a token under the hash of value. token.Hash is set.
// Returns ErrDuplicate if the value was already issued.
func (s *SQLiteStore) CreateToken(ctx context.Context, value string, token *OAuthToken) error {
	scopes, err := encodeStrings(token.Scopes)
	if err != nil {
		return fmt.Errorf("encoding scopes: %w", err)
	}
	token.Hash = HashToken(value)

	query := `
		INSERT INTO oauth_tokens (token_hash, principal_id, client_id, scopes_json, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		token.Hash,
		token.PrincipalID,
		token.ClientID,
		scopes,
		formatTime(token.ExpiresAt),
		boolToInt(token.Revoked),
		formatTime(token.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: token", ErrDuplicate)
		}
		return fmt.Errorf("inserting token: %w", err)
	}

	s.logger.Debug("issued oauth token", "principal_id", token.PrincipalID, "scopes", token.Scopes)
	return nil
}

// GetToken looks up a token by its value.
// Returns ErrNotFound if no such token was issued. Expired and revoked tokens
// are returned; callers decide what they mean.
func (s *SQLiteStore) GetToken(ctx context.Context, value string) (*OAuthToken, error) {
	query := `
		SELECT token_hash, principal_id, client_id, scopes_json, expires_at, revoked, created_at
		FROM oauth_tokens
		WHERE token_hash = ?
	`
	var t OAuthToken
	var scopesJSON, expiresAt, createdAt string
	var revoked int
	err := s.db.QueryRowContext(ctx, query, HashToken(value)).Scan(
		&t.Hash,
		&t.PrincipalID,
		&t.ClientID,
		&scopesJSON,
		&expiresAt,
		&revoked,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	t.Revoked = revoked != 0
	if t.Scopes, err = decodeStrings(scopesJSON); err != nil {
		return nil, err
	}
	if t.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// RevokeToken marks a token revoked.
// Returns ErrNotFound if no such token was issued.
func (s *SQLiteStore) RevokeToken(ctx context.Context, value string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE oauth_tokens SET revoked = 1 WHERE token_hash = ?`, HashToken(value))
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return requireAffected(result)
}

// DeleteExpiredTokens removes tokens that expired before now.
func (s *SQLiteStore) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM oauth_tokens WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		s.logger.Info("deleted expired oauth tokens", "count", n)
	}
	return n, nil
}
