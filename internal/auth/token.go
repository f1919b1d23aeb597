// ABOUTME: Session cookie tokens for browser callers
// ABOUTME: HS256 JWTs carrying the principal ID in the "sub" claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// sessionIssuer is written to and required in the "iss" claim.
const sessionIssuer = "toolbridge"

// SessionVerifier verifies session cookie values.
type SessionVerifier interface {
	Verify(tokenString string) (principalID string, err error)
}

// SessionSigner signs and verifies session JWTs.
type SessionSigner struct {
	secret []byte
}

// NewSessionSigner creates a signer. The secret must be at least MinSecretLength bytes.
func NewSessionSigner(secret []byte) (*SessionSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	return &SessionSigner{secret: secret}, nil
}

// Verify validates the token and returns the principal ID from the "sub" claim.
func (s *SessionSigner) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Sign creates a session token for principalID valid for ttl.
func (s *SessionSigner) Sign(principalID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": principalID,
		"iss": sessionIssuer,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
