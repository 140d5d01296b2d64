package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authgateway/config"
	"github.com/upb/authgateway/internal/observability"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

// AccessTokenIssuer signs access tokens; satisfied by *tokens.Manager
type AccessTokenIssuer interface {
	Issue(userID int64, email string) (string, time.Time, error)
}

// AccessToken is a signed access token and its expiry
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// RenewResult is what a successful refresh hands back. RefreshToken is the
// credential the client should keep: the same one unless rotation is on.
type RenewResult struct {
	AccessToken  *AccessToken
	RefreshToken *models.RefreshToken
	Rotated      bool
}

// TokenService owns the renewal credential lifecycle
type TokenService struct {
	txMgr         repositories.TransactionManager
	users         repositories.UserRepository
	refreshTokens repositories.RefreshTokenRepository
	issuer        AccessTokenIssuer
	refreshTTL    time.Duration
	rotate        bool
	audit         AuditRecorder
	metrics       *observability.Metrics
	logger        *zap.Logger

	now      func() time.Time
	newValue func() string
}

// NewTokenService creates a new token service
func NewTokenService(
	txMgr repositories.TransactionManager,
	repos *repositories.Repositories,
	issuer AccessTokenIssuer,
	cfg config.TokenConfig,
	audit AuditRecorder,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *TokenService {
	return &TokenService{
		txMgr:         txMgr,
		users:         repos.Users,
		refreshTokens: repos.RefreshTokens,
		issuer:        issuer,
		refreshTTL:    cfg.RefreshTTL,
		rotate:        cfg.RotateOnRefresh,
		audit:         recorderOrNoop(audit),
		metrics:       metrics,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newValue:      func() string { return uuid.New().String() },
	}
}

// IssueAccessToken signs a short lived token for the user
func (s *TokenService) IssueAccessToken(userID int64, email string) (*AccessToken, error) {
	token, expiresAt, err := s.issuer.Issue(userID, email)
	if err != nil {
		return nil, WrapInternal("failed to sign access token", err)
	}
	return &AccessToken{Token: token, ExpiresAt: expiresAt}, nil
}

// IssueRefreshToken replaces every active renewal credential of the user with a
// new one. The user row is locked first so concurrent issuances serialize.
func (s *TokenService) IssueRefreshToken(ctx context.Context, userID int64) (*models.RefreshToken, error) {
	return WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*models.RefreshToken, error) {
		return s.replaceRefreshToken(ctx, userID)
	})
}

// replaceRefreshToken must run inside a transaction
func (s *TokenService) replaceRefreshToken(ctx context.Context, userID int64) (*models.RefreshToken, error) {
	if err := s.users.LockByID(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	revoked, err := s.refreshTokens.RevokeAllByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	token := models.NewRefreshToken(userID, s.newValue(), s.now(), s.refreshTTL)
	if err := s.refreshTokens.Create(ctx, token); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrConcurrentLogin.Wrap(err)
		}
		return nil, err
	}

	s.logger.Debug("refresh token issued",
		zap.Int64("user_id", userID),
		zap.Int64("revoked_previous", revoked))
	return token, nil
}

type renewOutcome struct {
	user    *models.User
	token   *models.RefreshToken
	rotated bool
	expired bool
}

// Renew exchanges a renewal credential for a new access token. An expired or
// revoked credential is deleted before ErrRefreshTokenExpired is returned, so
// presenting it again yields ErrRefreshTokenNotFound.
func (s *TokenService) Renew(ctx context.Context, value string) (*RenewResult, error) {
	if value == "" {
		return nil, s.rejectRenewal(ctx, nil, ErrRefreshTokenNotFound)
	}

	outcome, err := WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*renewOutcome, error) {
		token, err := s.refreshTokens.GetByToken(ctx, value)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrRefreshTokenNotFound
			}
			return nil, err
		}

		if !token.IsActive(s.now()) {
			if err := s.refreshTokens.Delete(ctx, token.ID); err != nil {
				return nil, err
			}
			// committed so the row is gone; the caller turns this into ErrRefreshTokenExpired
			return &renewOutcome{token: token, expired: true}, nil
		}

		user, err := s.users.GetByID(ctx, token.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrRefreshTokenNotFound
			}
			return nil, err
		}

		if !s.rotate {
			return &renewOutcome{user: user, token: token}, nil
		}

		rotated, err := s.replaceRefreshToken(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		return &renewOutcome{user: user, token: rotated, rotated: true}, nil
	})
	if err != nil {
		return nil, s.rejectRenewal(ctx, nil, err)
	}

	if outcome.expired {
		return nil, s.rejectRenewal(ctx, &outcome.token.UserID, ErrRefreshTokenExpired)
	}

	access, err := s.IssueAccessToken(outcome.user.ID, outcome.user.Email)
	if err != nil {
		return nil, s.rejectRenewal(ctx, &outcome.user.ID, err)
	}

	s.metrics.ObserveRefresh(observability.ResultSuccess)
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionTokenRefreshed).
		WithUser(outcome.user.ID).
		WithDetails(map[string]interface{}{"rotated": outcome.rotated}))

	return &RenewResult{
		AccessToken:  access,
		RefreshToken: outcome.token,
		Rotated:      outcome.rotated,
	}, nil
}

func (s *TokenService) rejectRenewal(ctx context.Context, userID *int64, err error) error {
	s.metrics.ObserveRefresh(resultFor(err))

	log := models.NewAuditLog(models.AuditActionRefreshRejected).WithError(err)
	if userID != nil {
		log.WithUser(*userID)
	}
	s.audit.Record(ctx, log)

	if IsUnavailableError(err) || IsInternalError(err) {
		s.logger.Error("refresh failed", zap.Error(err))
	}
	return err
}

// Revoke marks the credential revoked. Unknown or already revoked values succeed.
func (s *TokenService) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	if err := s.refreshTokens.RevokeByToken(ctx, value); err != nil {
		return WrapStore(err)
	}
	return nil
}

// RevokeAllForUser revokes every active credential of the user
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.refreshTokens.RevokeAllByUser(ctx, userID)
	if err != nil {
		return 0, WrapStore(err)
	}
	return n, nil
}

// resultFor maps an error onto a metrics result label
func resultFor(err error) string {
	switch GetErrorType(err) {
	case "":
		if err == nil {
			return observability.ResultSuccess
		}
		return observability.ResultError
	case ErrorTypeNotFound:
		return observability.ResultNotFound
	case ErrorTypeExpired:
		return observability.ResultExpired
	case ErrorTypeUnauthorized, ErrorTypeValidation:
		return observability.ResultInvalid
	case ErrorTypeConflict:
		return observability.ResultConflict
	case ErrorTypeUnavailable, ErrorTypeExternal:
		return observability.ResultUnavailable
	default:
		return observability.ResultError
	}
}
