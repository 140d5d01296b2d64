package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/authgateway/identity"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/repositories"
	"go.uber.org/zap"
)

// MockVerifier is a mock implementation of identity.Verifier
type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, raw string) (*identity.VerifiedClaims, error) {
	args := m.Called(ctx, raw)
	if c := args.Get(0); c != nil {
		return c.(*identity.VerifiedClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

func googleClaims(sub, email, name string) *identity.VerifiedClaims {
	return &identity.VerifiedClaims{
		Provider:      models.AuthProviderGoogle,
		Subject:       sub,
		Email:         email,
		EmailVerified: true,
		Name:          name,
		Picture:       "https://example.com/" + sub + ".png",
	}
}

type authFixture struct {
	*tokenFixture
	verifier *MockVerifier
	auth     *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	f := newTokenFixture(t, false)
	verifier := new(MockVerifier)
	return &authFixture{
		tokenFixture: f,
		verifier:     verifier,
		auth:         NewAuthService(verifier, f.store, f.store.repos(), f.svc, f.audit, f.metrics, zap.NewNop()),
	}
}

func TestAuthService_Authenticate_FirstAndRepeatLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion-1").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)

	first, err := f.auth.Authenticate(ctx, "assertion-1")
	require.NoError(t, err)

	assert.True(t, first.FirstLogin)
	assert.Equal(t, "a@b.com", first.User.Email)
	assert.Equal(t, "Ana", first.User.Name)
	assert.True(t, first.User.EmailVerified)
	assert.Equal(t, models.AuthProviderGoogle, first.User.AuthProvider)
	require.NotNil(t, first.User.LastLoginAt)
	firstLogin := *first.User.LastLoginAt

	claims, err := f.manager.Parse(first.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, claims.UserID)

	time.Sleep(5 * time.Millisecond)

	second, err := f.auth.Authenticate(ctx, "assertion-1")
	require.NoError(t, err)

	assert.False(t, second.FirstLogin)
	assert.Equal(t, first.User.ID, second.User.ID)
	require.NotNil(t, second.User.LastLoginAt)
	assert.True(t, second.User.LastLoginAt.After(firstLogin))
	assert.Equal(t, 1, f.store.userCount())

	// the second login replaced the first renewal credential
	active := f.store.activeTokens(first.User.ID, time.Now())
	require.Len(t, active, 1)
	assert.Equal(t, second.RefreshToken, active[0].Token)

	_, err = f.svc.Renew(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)

	assert.Equal(t, []models.AuditAction{
		models.AuditActionLoginSucceeded,
		models.AuditActionLoginSucceeded,
		models.AuditActionRefreshRejected,
	}, f.audit.actions())
}

func TestAuthService_Authenticate_EmailConflict(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion-1").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)
	f.verifier.On("Verify", ctx, "assertion-2").Return(googleClaims("g-2", "a@b.com", "Impostor"), nil)

	_, err := f.auth.Authenticate(ctx, "assertion-1")
	require.NoError(t, err)

	result, err := f.auth.Authenticate(ctx, "assertion-2")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrEmailConflict)
	assert.Equal(t, 1, f.store.userCount())

	user, ok := f.store.user(1)
	require.True(t, ok)
	assert.Equal(t, "Ana", user.Name)
	assert.Len(t, f.store.activeTokens(1, time.Now()), 1)
}

func TestAuthService_Authenticate_RejectedAssertion(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		verr    error
		wantErr error
	}{
		{"bad signature", fmt.Errorf("%w: signature is invalid", identity.ErrInvalidAssertion), ErrInvalidAssertion},
		{"expired", identity.ErrAssertionExpired, ErrInvalidAssertion},
		{"email not verified", identity.ErrEmailNotVerified, ErrInvalidAssertion},
		{"keys unavailable", fmt.Errorf("%w: status code 503", identity.ErrKeySetUnavailable), ErrIdentityProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			f.verifier.On("Verify", ctx, "bad").Return(nil, tt.verr)

			result, err := f.auth.Authenticate(ctx, "bad")
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, tt.verr)

			assert.Zero(t, f.store.callCount(), "no store access on a rejected assertion")
			assert.Equal(t, []models.AuditAction{models.AuditActionLoginFailed}, f.audit.actions())
		})
	}
}

func TestAuthService_Authenticate_KeepsManualOverrides(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	existing := models.NewExternalUser(models.AuthProviderGoogle, "g-1", "a@b.com", "Chosen Name", nil, time.Now().UTC())
	existing.NameManuallyUpdated = true
	f.store.seedUser(existing)

	f.verifier.On("Verify", ctx, "assertion").Return(googleClaims("g-1", "a@b.com", "Google Name"), nil)

	result, err := f.auth.Authenticate(ctx, "assertion")
	require.NoError(t, err)

	assert.Equal(t, "Chosen Name", result.User.Name)
	require.NotNil(t, result.User.ProfilePictureURL)
	assert.Equal(t, "https://example.com/g-1.png", *result.User.ProfilePictureURL)
}

func TestAuthService_Authenticate_ConcurrentCreateIsRetryable(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)

	f.store.failNext("users.Create", fmt.Errorf("users_external_id_key: %w", repositories.ErrDuplicate))

	_, err := f.auth.Authenticate(ctx, "assertion")
	assert.ErrorIs(t, err, ErrConcurrentLogin)
	assert.True(t, IsConflictError(err))
	assert.Equal(t, 0, f.store.userCount())

	result, err := f.auth.Authenticate(ctx, "assertion")
	require.NoError(t, err)
	assert.True(t, result.FirstLogin)
}

func TestAuthService_Authenticate_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)
	f.store.failNext("users.GetByExternalID", errors.New("dial tcp: connection refused"))

	_, err := f.auth.Authenticate(ctx, "assertion")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestAuthService_LogoutThenRefresh(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)

	login, err := f.auth.Authenticate(ctx, "assertion")
	require.NoError(t, err)

	renewed, err := f.auth.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, renewed.AccessToken.Token)

	require.NoError(t, f.auth.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.auth.Logout(ctx, login.RefreshToken))

	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenExpired)

	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestAuthService_Authenticate_RepeatLoginStampsLastLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	f.verifier.On("Verify", ctx, "assertion").Return(googleClaims("g-1", "a@b.com", "Ana"), nil)

	_, err := f.auth.Authenticate(ctx, "assertion")
	require.NoError(t, err)

	// unchanged profile: only the login time is written
	f.store.failNext("users.UpdateLastLogin", errors.New("connection reset"))
	_, err = f.auth.Authenticate(ctx, "assertion")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	again, err := f.auth.Authenticate(ctx, "assertion")
	require.NoError(t, err)
	require.NotNil(t, again.User.LastLoginAt)

	stored, ok := f.store.user(again.User.ID)
	require.True(t, ok)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, "Ana", stored.Name)
}
