package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hireloop/ratelimitd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("login token resolves back to the tenant", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		svc := NewAuthService(repository.NewUserRepository(db), "test-secret", 1)

		tenantID := uuid.New()
		require.NoError(t, svc.Register(ctx, tenantID, "jordan@example.com", "s3cret-pass", "Jordan"))

		token, err := svc.Login(ctx, "jordan@example.com", "s3cret-pass")
		require.NoError(t, err)
		require.NotEmpty(t, token)

		session, err := svc.ValidateToken(token)
		require.NoError(t, err)

		assert.Equal(t, tenantID, session.TenantID)
		assert.Equal(t, "jordan@example.com", session.Email)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		svc := NewAuthService(repository.NewUserRepository(db), "test-secret", 1)

		require.NoError(t, svc.Register(ctx, uuid.New(), "sam@example.com", "correct-pass", "Sam"))

		_, err := svc.Login(ctx, "sam@example.com", "wrong-pass")
		assert.Error(t, err)
	})

	t.Run("token signed with another secret rejected", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		issuer := NewAuthService(repository.NewUserRepository(db), "secret-a", 1)
		verifier := NewAuthService(repository.NewUserRepository(db), "secret-b", 1)

		require.NoError(t, issuer.Register(ctx, uuid.New(), "kim@example.com", "valid-pass", "Kim"))

		token, err := issuer.Login(ctx, "kim@example.com", "valid-pass")
		require.NoError(t, err)

		_, err = verifier.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		svc := NewAuthService(repository.NewUserRepository(db), "test-secret", 1)

		require.NoError(t, svc.Register(ctx, uuid.New(), "dup@example.com", "password1", "First"))
		assert.Error(t, svc.Register(ctx, uuid.New(), "dup@example.com", "password2", "Second"))
	})
}
