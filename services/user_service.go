package services

import (
	"context"
	"errors"
	"strings"

	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

// MaxNameLength bounds user supplied display names
const MaxNameLength = 100

// UpdateProfileInput carries the fields a user may change. Nil leaves a field alone.
type UpdateProfileInput struct {
	Name              *string
	ProfilePictureURL *string
}

// UserService manages the local user directory
type UserService struct {
	txMgr  repositories.TransactionManager
	users  repositories.UserRepository
	tokens repositories.RefreshTokenRepository
	audit  AuditRecorder
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(txMgr repositories.TransactionManager, repos *repositories.Repositories, audit AuditRecorder, logger *zap.Logger) *UserService {
	return &UserService{
		txMgr:  txMgr,
		users:  repos.Users,
		tokens: repos.RefreshTokens,
		audit:  recorderOrNoop(audit),
		logger: logger,
	}
}

// GetByID returns the user or ErrUserNotFound
func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, WrapStore(mapUserErr(err))
	}
	return user, nil
}

// UpdateProfile changes name or picture and marks them as manually set, so
// later logins keep the user's choice.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, input UpdateProfileInput) (*models.User, error) {
	if input.Name == nil && input.ProfilePictureURL == nil {
		return nil, ErrInvalidInput.Wrap(errors.New("nothing to update"))
	}

	var name string
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
		if name == "" || len([]rune(name)) > MaxNameLength {
			return nil, NewDomainError(ErrorTypeValidation, "invalid input", nil).
				WithDetail("name", "must be 1 to 100 characters")
		}
	}

	user, err := WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*models.User, error) {
		if err := s.users.LockByID(ctx, userID); err != nil {
			return nil, mapUserErr(err)
		}
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, mapUserErr(err)
		}

		if input.Name != nil {
			user.Name = name
			user.NameManuallyUpdated = true
		}
		if input.ProfilePictureURL != nil {
			if *input.ProfilePictureURL == "" {
				user.ProfilePictureURL = nil
			} else {
				picture := *input.ProfilePictureURL
				user.ProfilePictureURL = &picture
			}
			user.PictureManuallyUpdated = true
		}

		if err := s.users.Update(ctx, user); err != nil {
			return nil, mapUserErr(err)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionProfileUpdated).
		WithUser(userID).
		WithDetails(map[string]interface{}{
			"name":    input.Name != nil,
			"picture": input.ProfilePictureURL != nil,
		}))
	return user, nil
}

// SyncWithProvider drops manual overrides; the next login refreshes name and
// picture from the identity provider.
func (s *UserService) SyncWithProvider(ctx context.Context, userID int64) (*models.User, error) {
	user, err := WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*models.User, error) {
		if err := s.users.LockByID(ctx, userID); err != nil {
			return nil, mapUserErr(err)
		}
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, mapUserErr(err)
		}
		user.ClearManualOverrides()
		if err := s.users.Update(ctx, user); err != nil {
			return nil, mapUserErr(err)
		}
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionProfileSynced).WithUser(userID))
	return user, nil
}

// Delete revokes and removes the user's renewal credentials, then the user
func (s *UserService) Delete(ctx context.Context, userID int64) error {
	err := WithTransaction(ctx, s.txMgr, func(ctx context.Context) error {
		if err := s.users.LockByID(ctx, userID); err != nil {
			return mapUserErr(err)
		}
		if _, err := s.tokens.RevokeAllByUser(ctx, userID); err != nil {
			return err
		}
		if _, err := s.tokens.DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return mapUserErr(s.users.Delete(ctx, userID))
	})
	if err != nil {
		return err
	}

	s.logger.Info("user deleted", zap.Int64("user_id", userID))
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionUserDeleted).WithUser(userID))
	return nil
}

func mapUserErr(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
