package services

import (
	"context"
	"errors"
	"time"

	"github.com/upb/authgateway/identity"
	"github.com/upb/authgateway/internal/observability"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

// AuthResult is returned by a successful login
type AuthResult struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  models.UserProfile
	FirstLogin            bool
}

// AuthService turns a verified external identity into local credentials
type AuthService struct {
	verifier identity.Verifier
	txMgr    repositories.TransactionManager
	users    repositories.UserRepository
	tokens   *TokenService
	audit    AuditRecorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	verifier identity.Verifier,
	txMgr repositories.TransactionManager,
	repos *repositories.Repositories,
	tokens *TokenService,
	audit AuditRecorder,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		verifier: verifier,
		txMgr:    txMgr,
		users:    repos.Users,
		tokens:   tokens,
		audit:    recorderOrNoop(audit),
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type loginOutcome struct {
	user       *models.User
	refresh    *models.RefreshToken
	firstLogin bool
}

// Authenticate verifies the assertion, finds or creates the user and issues a
// fresh credential pair. Nothing is written when verification fails.
func (s *AuthService) Authenticate(ctx context.Context, assertion string) (*AuthResult, error) {
	logger := observability.WithRequest(ctx, s.logger)

	claims, err := s.verifier.Verify(ctx, assertion)
	if err != nil {
		if errors.Is(err, identity.ErrKeySetUnavailable) {
			return nil, s.loginFailed(ctx, nil, ErrIdentityProviderUnavailable.Wrap(err))
		}
		logger.Info("identity assertion rejected", zap.Error(err))
		return nil, s.loginFailed(ctx, nil, ErrInvalidAssertion.Wrap(err))
	}

	outcome, err := WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*loginOutcome, error) {
		user, firstLogin, err := s.upsertUser(ctx, claims)
		if err != nil {
			return nil, err
		}

		refresh, err := s.tokens.IssueRefreshToken(ctx, user.ID)
		if err != nil {
			return nil, err
		}

		return &loginOutcome{user: user, refresh: refresh, firstLogin: firstLogin}, nil
	})
	if err != nil {
		if IsUnavailableError(err) {
			logger.Error("login failed", zap.Error(err))
		}
		return nil, s.loginFailed(ctx, claims, err)
	}

	access, err := s.tokens.IssueAccessToken(outcome.user.ID, outcome.user.Email)
	if err != nil {
		logger.Error("failed to sign access token", zap.Error(err))
		return nil, s.loginFailed(ctx, claims, err)
	}

	s.metrics.ObserveLogin(string(claims.Provider), observability.ResultSuccess)
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginSucceeded).
		WithUser(outcome.user.ID).
		WithDetails(map[string]interface{}{
			"provider":    claims.Provider,
			"first_login": outcome.firstLogin,
		}))
	logger.Info("user logged in",
		zap.Int64("user_id", outcome.user.ID),
		zap.Bool("first_login", outcome.firstLogin))

	return &AuthResult{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          outcome.refresh.Token,
		RefreshTokenExpiresAt: outcome.refresh.ExpiresAt,
		User:                  outcome.user.Profile(),
		FirstLogin:            outcome.firstLogin,
	}, nil
}

// upsertUser must run inside a transaction
func (s *AuthService) upsertUser(ctx context.Context, claims *identity.VerifiedClaims) (*models.User, bool, error) {
	now := s.now()

	user, err := s.users.GetByExternalID(ctx, claims.Provider, claims.Subject)
	switch {
	case err == nil:
		changed := user.ApplyProviderProfile(claims.DisplayName(), claims.PictureURL())
		user.LastLoginAt = &now
		if changed {
			err = s.users.Update(ctx, user)
		} else {
			err = s.users.UpdateLastLogin(ctx, user.ID)
		}
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, false, err
	}

	if _, err := s.users.GetByEmail(ctx, claims.Email); err == nil {
		return nil, false, ErrEmailConflict
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, false, err
	}

	user = models.NewExternalUser(claims.Provider, claims.Subject, claims.Email, claims.DisplayName(), claims.PictureURL(), now)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, false, ErrConcurrentLogin.Wrap(err)
		}
		return nil, false, err
	}
	return user, true, nil
}

func (s *AuthService) loginFailed(ctx context.Context, claims *identity.VerifiedClaims, err error) error {
	provider := string(models.AuthProviderGoogle)
	details := map[string]interface{}{}
	if claims != nil {
		provider = string(claims.Provider)
		details["email"] = claims.Email
	}

	s.metrics.ObserveLogin(provider, resultFor(err))
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLoginFailed).
		WithDetails(details).
		WithError(err))
	return err
}

// Refresh exchanges a renewal credential for a new access token
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RenewResult, error) {
	return s.tokens.Renew(ctx, refreshToken)
}

// Logout revokes the renewal credential. Repeating it is harmless.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		observability.WithRequest(ctx, s.logger).Error("logout failed", zap.Error(err))
		return err
	}
	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionLogout))
	return nil
}
