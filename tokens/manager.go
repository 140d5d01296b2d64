// Package tokens signs and validates the service's own access tokens.
package tokens

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/authgateway/config"
)

var (
	// ErrInvalid covers malformed tokens, bad signatures, unexpected algorithms and bad claims
	ErrInvalid = errors.New("invalid access token")

	// ErrExpired is returned for an otherwise valid token at or past its exp claim
	ErrExpired = errors.New("access token expired")
)

// Claims is what a valid access token asserts about its bearer
type Claims struct {
	UserID    int64
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager issues and parses access tokens. It is immutable after construction
// and safe for concurrent use.
type Manager struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

// NewManager builds a Manager from token settings. privateKeyPEM is only read
// for RS256.
func NewManager(cfg config.TokenConfig, privateKeyPEM []byte, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		now:    time.Now,
	}

	switch cfg.SigningAlgorithm {
	case "HS256", "HS384", "HS512":
		m.method = jwt.GetSigningMethod(cfg.SigningAlgorithm)
		m.signKey = []byte(cfg.SigningSecret)
		m.verifyKey = []byte(cfg.SigningSecret)
	case "RS256":
		key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse signing key: %w", err)
		}
		m.method = jwt.SigningMethodRS256
		m.signKey = key
		m.verifyKey = &key.PublicKey
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.SigningAlgorithm)
	}

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// LoadManager is NewManager reading the RS256 private key from cfg.PrivateKeyFile
func LoadManager(cfg config.TokenConfig, opts ...Option) (*Manager, error) {
	var pem []byte
	if cfg.IsAsymmetric() {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		pem = data
	}
	return NewManager(cfg, pem, opts...)
}

// Issue signs an access token for the user
func (m *Manager) Issue(userID int64, email string) (string, time.Time, error) {
	now := m.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(m.ttl))

	token := jwt.NewWithClaims(m.method, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    m.issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
		Email: email,
	})

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Parse validates the token and returns its claims. It never touches storage.
func (m *Manager) Parse(raw string) (*Claims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return m.verifyKey, nil
	},
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if expiredOnly(err) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: bad subject %q", ErrInvalid, claims.Subject)
	}

	out := &Claims{
		UserID:    userID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}

// expiredOnly reports whether exp is the sole reason err rejects the token.
// jwt joins claim failures, so an expired token with a foreign issuer carries both.
func expiredOnly(err error) bool {
	if !errors.Is(err, jwt.ErrTokenExpired) {
		return false
	}
	for _, other := range []error{
		jwt.ErrTokenInvalidIssuer,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenUsedBeforeIssued,
		jwt.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}
