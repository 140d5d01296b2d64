package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/upb/authgateway/internal/observability"
	"github.com/upb/authgateway/tokens"
	"github.com/upb/authgateway/utils"
	"go.uber.org/zap"
)

// TokenParser validates a signed access token; satisfied by *tokens.Manager
type TokenParser interface {
	Parse(raw string) (*tokens.Claims, error)
}

// AuthMiddleware authenticates requests from their bearer access token.
// Validation is local to the signing key; the credential store is never read.
type AuthMiddleware struct {
	parser  TokenParser
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(parser TokenParser, metrics *observability.Metrics, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		parser:  parser,
		metrics: metrics,
		logger:  logger,
	}
}

// Authenticate attaches the caller's Identity to the request context.
// Requests without an Authorization header pass through anonymous; a header
// that is present but unusable is rejected with 401.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.WithRequest(ctx, m.logger)

		header := r.Header.Get("Authorization")
		if header == "" {
			m.metrics.ObserveAccessTokenCheck(observability.ResultAnonymous)
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractBearerToken(header)
		if !ok {
			m.metrics.ObserveAccessTokenCheck(observability.ResultInvalid)
			logger.Debug("malformed authorization header")
			_ = utils.WriteTokenError(w, utils.ErrorCodeInvalidToken, "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := m.parser.Parse(token)
		switch {
		case errors.Is(err, tokens.ErrExpired):
			m.metrics.ObserveAccessTokenCheck(observability.ResultExpired)
			logger.Debug("access token expired")
			_ = utils.WriteTokenError(w, utils.ErrorCodeTokenExpired, "Access token expired")
			return
		case err != nil:
			m.metrics.ObserveAccessTokenCheck(observability.ResultInvalid)
			logger.Debug("access token rejected", zap.Error(err))
			_ = utils.WriteTokenError(w, utils.ErrorCodeInvalidToken, "Invalid access token")
			return
		}

		m.metrics.ObserveAccessTokenCheck(observability.ResultSuccess)
		ctx = WithIdentity(ctx, Identity{UserID: claims.UserID, Email: claims.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests that Authenticate left anonymous
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); !ok {
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header
func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
