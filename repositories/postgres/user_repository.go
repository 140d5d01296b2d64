package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

const userColumns = `id, name, email, external_id, profile_picture_url, email_verified, auth_provider,
	name_manually_updated, picture_manually_updated, created_at, updated_at, last_login_at`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the user and fills in its generated ID
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (name, email, external_id, profile_picture_url, email_verified, auth_provider,
			name_manually_updated, picture_manually_updated, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		user.Name,
		user.Email,
		user.ExternalID,
		user.ProfilePictureURL,
		user.EmailVerified,
		user.AuthProvider,
		user.NameManuallyUpdated,
		user.PictureManuallyUpdated,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
	).Scan(&user.ID)
	if err != nil {
		return mapWriteError("failed to create user", err)
	}

	r.logger.Debug("user created", zap.Int64("id", user.ID), zap.String("email", user.Email))
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, fmt.Sprintf("id %d", id), query, id)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, "email "+email, query, email)
}

// GetByExternalID retrieves the user bound to a provider subject
func (r *UserRepository) GetByExternalID(ctx context.Context, provider models.AuthProvider, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE auth_provider = $1 AND external_id = $2`
	return r.getOne(ctx, fmt.Sprintf("%s subject %s", provider, externalID), query, provider, externalID)
}

// LockByID holds a row lock on the user until the surrounding transaction ends
func (r *UserRepository) LockByID(ctx context.Context, id int64) error {
	var locked int64
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %d: %w", id, repositories.ErrNotFound)
		}
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

// Update writes the mutable profile fields
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET name = $2, email = $3, profile_picture_url = $4, email_verified = $5,
			name_manually_updated = $6, picture_manually_updated = $7, last_login_at = $8, updated_at = $9
		WHERE id = $1
	`

	user.UpdatedAt = time.Now().UTC()
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.ProfilePictureURL,
		user.EmailVerified,
		user.NameManuallyUpdated,
		user.PictureManuallyUpdated,
		user.LastLoginAt,
		user.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("failed to update user", err)
	}

	if err := expectOneRow(result, fmt.Sprintf("user %d", user.ID)); err != nil {
		return err
	}

	r.logger.Debug("user updated", zap.Int64("id", user.ID))
	return nil
}

// UpdateLastLogin stamps the login time
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return expectOneRow(result, fmt.Sprintf("user %d", id))
}

// Delete removes the user; refresh tokens go with it via ON DELETE CASCADE
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if err := expectOneRow(result, fmt.Sprintf("user %d", id)); err != nil {
		return err
	}

	r.logger.Debug("user deleted", zap.Int64("id", id))
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, what, query string, args ...interface{}) (*models.User, error) {
	user := &models.User{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.ExternalID,
		&user.ProfilePictureURL,
		&user.EmailVerified,
		&user.AuthProvider,
		&user.NameManuallyUpdated,
		&user.PictureManuallyUpdated,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found for %s: %w", what, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func expectOneRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	}
	return nil
}
