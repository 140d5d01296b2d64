package handlers

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/upb/authgateway/middleware"
	"github.com/upb/authgateway/models"
	"github.com/upb/authgateway/services"
	"github.com/upb/authgateway/utils"
	"go.uber.org/zap"
)

const tokenTypeBearer = "Bearer"

// Authenticator is the login surface of services.AuthService
type Authenticator interface {
	Authenticate(ctx context.Context, assertion string) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.RenewResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// GoogleLoginRequest carries a Google ID token obtained by the client
type GoogleLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// RefreshTokenRequest carries a renewal credential
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken  string              `json:"access_token"`
	RefreshToken string              `json:"refresh_token"`
	TokenType    string              `json:"token_type"`
	ExpiresIn    int64               `json:"expires_in"`
	User         *models.UserProfile `json:"user,omitempty"`
	FirstLogin   *bool               `json:"first_login,omitempty"`
}

// IdentityResponse describes the caller of GET /auth/me
type IdentityResponse struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
}

// AuthHandler handles login, token renewal and logout
type AuthHandler struct {
	auth   Authenticator
	logger *zap.Logger
	now    func() time.Time
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth Authenticator, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
		now:    time.Now,
	}
}

// HandleGoogleLogin handles POST /auth/google
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	result, err := h.auth.Authenticate(r.Context(), req.IDToken)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	user := result.User
	firstLogin := result.FirstLogin
	response := TokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    h.secondsUntil(result.AccessTokenExpiresAt),
		User:         &user,
		FirstLogin:   &firstLogin,
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write login response", zap.Error(err))
	}
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	result, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	response := TokenResponse{
		AccessToken:  result.AccessToken.Token,
		RefreshToken: result.RefreshToken.Token,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    h.secondsUntil(result.AccessToken.ExpiresAt),
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write refresh response", zap.Error(err))
	}
}

// HandleLogout handles POST /auth/logout. Unknown tokens are acknowledged too.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Message: "Logged out"}); err != nil {
		h.logger.Error("failed to write logout response", zap.Error(err))
	}
}

// HandleMe handles GET /auth/me, answered from the access token alone
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	_ = utils.WriteOK(w, IdentityResponse{UserID: id.UserID, Email: id.Email})
}

// decodeRequest reads and validates a JSON body, writing a 400 on failure
func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

func (h *AuthHandler) secondsUntil(t time.Time) int64 {
	secs := math.Round(t.Sub(h.now()).Seconds())
	if secs < 0 {
		return 0
	}
	return int64(secs)
}
