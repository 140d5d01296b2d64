package repositories

import (
	"context"
	"errors"

	"github.com/upb/authgateway/models"
)

var (
	// ErrNotFound is wrapped by repositories when a row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is wrapped when a unique constraint rejects a write
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions. The active transaction
// travels in the context so repositories join it without extra wiring.
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes fn within a transaction, joining one already
	// present in ctx. Commits if fn succeeds, rolls back on error or panic.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error

	// Context returns a context carrying this transaction
	Context() context.Context
}

// UserRepository is the user directory
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByExternalID(ctx context.Context, provider models.AuthProvider, externalID string) (*models.User, error)

	// LockByID takes a row lock on the user for the rest of the transaction
	LockByID(ctx context.Context, id int64) error

	Update(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// RefreshTokenRepository is the credential store for renewal tokens
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	GetByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// RevokeByToken is a no-op for unknown or already revoked tokens
	RevokeByToken(ctx context.Context, token string) error

	// RevokeAllByUser returns how many active rows were revoked
	RevokeAllByUser(ctx context.Context, userID int64) (int64, error)

	Delete(ctx context.Context, id int64) error
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
}

// AuditRepository persists auth audit events
type AuditRepository interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users         UserRepository
	RefreshTokens RefreshTokenRepository
	AuditLogs     AuditRepository
}
