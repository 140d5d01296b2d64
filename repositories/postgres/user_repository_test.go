package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

var userRowColumns = []string{
	"id", "name", "email", "external_id", "profile_picture_url", "email_verified", "auth_provider",
	"name_manually_updated", "picture_manually_updated", "created_at", "updated_at", "last_login_at",
}

func TestUserRepository_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns generated id", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())
		user := models.NewExternalUser(models.AuthProviderGoogle, "g-1", "a@b.com", "Ana", nil, now)

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

		require.NoError(t, repo.Create(ctx, user))
		assert.Equal(t, int64(7), user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email taken maps to ErrDuplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		err := repo.Create(ctx, models.NewExternalUser(models.AuthProviderGoogle, "g-2", "a@b.com", "Ana", nil, now))
		assert.True(t, errors.Is(err, repositories.ErrDuplicate))
	})
}

func TestUserRepository_GetByExternalID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("WHERE auth_provider = $1 AND external_id = $2")).
			WithArgs(models.AuthProviderGoogle, "g-1").
			WillReturnRows(sqlmock.NewRows(userRowColumns).
				AddRow(int64(7), "Ana", "a@b.com", "g-1", nil, true, "google", true, false, now, now, now))

		user, err := repo.GetByExternalID(ctx, models.AuthProviderGoogle, "g-1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, "g-1", *user.ExternalID)
		assert.Nil(t, user.ProfilePictureURL)
		assert.True(t, user.NameManuallyUpdated)
		require.NotNil(t, user.LastLoginAt)
	})

	t.Run("unknown subject wraps ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectQuery(regexp.QuoteMeta("WHERE auth_provider = $1 AND external_id = $2")).
			WillReturnRows(sqlmock.NewRows(userRowColumns))

		_, err := repo.GetByExternalID(ctx, models.AuthProviderGoogle, "g-404")
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})
}

func TestUserRepository_LockByID(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	assert.NoError(t, repo.LockByID(ctx, 7))
	assert.True(t, errors.Is(repo.LockByID(ctx, 8), repositories.ErrNotFound))
}

func TestUserRepository_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("update missing user", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, &models.User{ID: 99, Name: "x", Email: "x@y.z"})
		assert.True(t, errors.Is(err, repositories.ErrNotFound))
	})

	t.Run("update last login", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_login_at = NOW()")).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateLastLogin(ctx, 7))
	})

	t.Run("delete", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewUserRepository(db, zap.NewNop())

		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM users WHERE id = $1")).
			WithArgs(int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Delete(ctx, 7))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
