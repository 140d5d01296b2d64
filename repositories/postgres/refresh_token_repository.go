package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

// RefreshTokenRepository implements repositories.RefreshTokenRepository
type RefreshTokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRefreshTokenRepository creates a new refresh token repository
func NewRefreshTokenRepository(db *DB, logger *zap.Logger) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts the token and fills in its generated ID
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, expires_at, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query,
		token.Token,
		token.UserID,
		token.ExpiresAt,
		token.CreatedAt,
		token.Revoked,
	).Scan(&token.ID)
	if err != nil {
		return mapWriteError("failed to create refresh token", err)
	}

	r.logger.Debug("refresh token created", zap.Int64("id", token.ID), zap.Int64("user_id", token.UserID))
	return nil
}

// GetByToken looks a token up by its opaque value
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, value string) (*models.RefreshToken, error) {
	query := `
		SELECT id, token, user_id, expires_at, created_at, revoked
		FROM refresh_tokens
		WHERE token = $1
	`

	token := &models.RefreshToken{}
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, value).Scan(
		&token.ID,
		&token.Token,
		&token.UserID,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.Revoked,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("refresh token: %w", repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// RevokeByToken marks the token revoked. Unknown or revoked tokens are not an error.
func (r *RefreshTokenRepository) RevokeByToken(ctx context.Context, value string) error {
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1 AND revoked = FALSE`, value)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllByUser revokes every active token owned by the user
func (r *RefreshTokenRepository) RevokeAllByUser(ctx context.Context, userID int64) (int64, error) {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		r.logger.Debug("refresh tokens revoked", zap.Int64("user_id", userID), zap.Int64("count", rows))
	}
	return rows, nil
}

// Delete removes a single token row
func (r *RefreshTokenRepository) Delete(ctx context.Context, id int64) error {
	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// DeleteByUser removes all of a user's token rows
func (r *RefreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return result.RowsAffected()
}
