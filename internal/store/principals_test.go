// ABOUTME: Tests for principal store operations
// ABOUTME: Covers create, lookup, status updates, and cascade deletes

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := &Principal{
		ID:          "principal-123",
		DisplayName: "Test Client",
		Roles:       []string{"admin"},
		Permissions: []string{"access content", "administer site configuration"},
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreatePrincipal(ctx, p))

	got, err := s.GetPrincipal(ctx, "principal-123")
	require.NoError(t, err)
	assert.Equal(t, "Test Client", got.DisplayName)
	assert.Equal(t, PrincipalStatusActive, got.Status, "status defaults to active")
	assert.Equal(t, []string{"admin"}, got.Roles)
	assert.Equal(t, []string{"access content", "administer site configuration"}, got.Permissions)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
}

func TestPrincipalStore_CreateDuplicate(t *testing.T) {
	s := setupTestStore(t)
	createTestPrincipal(t, s, "dup")

	err := s.CreatePrincipal(context.Background(), &Principal{ID: "dup", DisplayName: "again", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPrincipalStore_GetMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetPrincipal(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestPrincipal(t, s, "a")
	createTestPrincipal(t, s, "b")

	list, err := s.ListPrincipals(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	count, err := s.CountPrincipals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrincipalStore_UpdateStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestPrincipal(t, s, "p1")

	require.NoError(t, s.UpdatePrincipalStatus(ctx, "p1", PrincipalStatusDisabled))
	got, err := s.GetPrincipal(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, PrincipalStatusDisabled, got.Status)

	assert.ErrorIs(t, s.UpdatePrincipalStatus(ctx, "missing", PrincipalStatusDisabled), ErrNotFound)
}

func TestPrincipalStore_DeleteCascadesTokens(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTestPrincipal(t, s, "p1")

	require.NoError(t, s.CreateToken(ctx, "secret-value", &OAuthToken{
		PrincipalID: "p1",
		Scopes:      []string{"content:read"},
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}))

	require.NoError(t, s.DeletePrincipal(ctx, "p1"))

	_, err := s.GetToken(ctx, "secret-value")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeletePrincipal(ctx, "p1"), ErrNotFound)
}
