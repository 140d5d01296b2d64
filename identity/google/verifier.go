// Package google verifies Google ID tokens against Google's published signing keys.
package google

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"github.com/upb/authgateway/identity"
	"github.com/upb/authgateway/internal/observability"
	"github.com/upb/authgateway/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultJWKSURL is where Google publishes its ID token signing keys
const DefaultJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// Google issues ID tokens under either form of its issuer
var validIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Claims is the payload of a Google ID token
type Claims struct {
	jwt.RegisteredClaims
	Email         string       `json:"email"`
	EmailVerified flexibleBool `json:"email_verified"`
	Name          string       `json:"name"`
	Picture       string       `json:"picture"`
	GivenName     string       `json:"given_name"`
	FamilyName    string       `json:"family_name"`
}

// flexibleBool accepts both true and "true"; older Google tokens used strings
type flexibleBool bool

func (b *flexibleBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexibleBool(t)
	case string:
		*b = flexibleBool(t == "true")
	case nil:
		*b = false
	default:
		return fmt.Errorf("email_verified: unexpected type %T", v)
	}
	return nil
}

// Config holds configuration for Verifier
type Config struct {
	ClientID           string
	JWKSURL            string
	CacheTTL           time.Duration
	MinRefreshInterval time.Duration
	HTTPTimeout        time.Duration
}

// Verifier validates Google ID tokens. Signing keys are cached per kid for
// CacheTTL; an unknown kid triggers at most one refetch per MinRefreshInterval.
type Verifier struct {
	clientID           string
	jwksURL            string
	httpClient         *http.Client
	keys               *gocache.Cache
	cacheTTL           time.Duration
	minRefreshInterval time.Duration

	refreshGroup singleflight.Group
	mu           sync.Mutex
	lastRefresh  time.Time

	now     func() time.Time
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ identity.Verifier = (*Verifier)(nil)

// NewVerifier creates a new Google ID token verifier
func NewVerifier(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Verifier {
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = DefaultJWKSURL
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}

	return &Verifier{
		clientID:           cfg.ClientID,
		jwksURL:            cfg.JWKSURL,
		httpClient:         &http.Client{Timeout: cfg.HTTPTimeout},
		keys:               gocache.New(cfg.CacheTTL, 10*time.Minute),
		cacheTTL:           cfg.CacheTTL,
		minRefreshInterval: cfg.MinRefreshInterval,
		now:                time.Now,
		logger:             logger,
		metrics:            metrics,
	}
}

// Verify validates the ID token and returns its claims
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*identity.VerifiedClaims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("kid header not found")
		}
		return v.publicKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrKeySetUnavailable):
			return nil, err
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, identity.ErrAssertionExpired
		default:
			return nil, fmt.Errorf("%w: %v", identity.ErrInvalidAssertion, err)
		}
	}

	if !validIssuer(claims.Issuer) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", identity.ErrInvalidAssertion, claims.Issuer)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: missing sub or email", identity.ErrInvalidAssertion)
	}
	if !claims.EmailVerified {
		return nil, identity.ErrEmailNotVerified
	}

	return &identity.VerifiedClaims{
		Provider:      models.AuthProviderGoogle,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: true,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

// publicKey returns the key for kid, refetching the key set once on a miss
func (v *Verifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}

	if key, ok := v.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found in JWKS", kid)
}

func (v *Verifier) cachedKey(kid string) (*rsa.PublicKey, bool) {
	if cached, ok := v.keys.Get(kid); ok {
		return cached.(*rsa.PublicKey), true
	}
	return nil, false
}

// refresh refetches the key set unless it was fetched within minRefreshInterval.
// Concurrent callers share one fetch, bounded by the HTTP client timeout rather
// than by whichever request started it.
func (v *Verifier) refresh(ctx context.Context) error {
	v.mu.Lock()
	recent := !v.lastRefresh.IsZero() && v.now().Sub(v.lastRefresh) < v.minRefreshInterval
	v.mu.Unlock()
	if recent {
		return nil
	}

	_, err, _ := v.refreshGroup.Do("jwks", func() (interface{}, error) {
		return nil, v.fetchKeys(context.WithoutCancel(ctx))
	})
	return err
}

// fetchKeys downloads the key set and replaces the cached keys
func (v *Verifier) fetchKeys(ctx context.Context) error {
	jwks, err := v.fetchJWKS(ctx)
	if err != nil {
		v.metrics.ObserveJWKSFetch(string(models.AuthProviderGoogle), observability.ResultError)
		v.logger.Warn("failed to fetch google signing keys", zap.String("url", v.jwksURL), zap.Error(err))
		return err
	}

	loaded := 0
	for i := range jwks.Keys {
		jwk := &jwks.Keys[i]
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := jwkToRSAPublicKey(jwk)
		if err != nil {
			v.logger.Warn("skipping malformed signing key", zap.String("kid", jwk.Kid), zap.Error(err))
			continue
		}
		v.keys.Set(jwk.Kid, key, v.cacheTTL)
		loaded++
	}

	v.mu.Lock()
	v.lastRefresh = v.now()
	v.mu.Unlock()

	v.metrics.ObserveJWKSFetch(string(models.AuthProviderGoogle), observability.ResultSuccess)
	v.logger.Debug("google signing keys refreshed", zap.Int("keys", loaded))
	return nil
}

func (v *Verifier) fetchJWKS(ctx context.Context) (*JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrKeySetUnavailable, err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", identity.ErrKeySetUnavailable, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", identity.ErrKeySetUnavailable, err)
	}
	return &jwks, nil
}

func jwkToRSAPublicKey(jwk *JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, errors.New("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

func validIssuer(iss string) bool {
	for _, candidate := range validIssuers {
		if iss == candidate {
			return true
		}
	}
	return false
}
