// Package identity defines how external identity assertions are verified.
// Each provider lives in a sub-package and satisfies Verifier.
package identity

import (
	"context"
	"errors"

	"github.com/upb/authgateway/models"
)

var (
	// ErrInvalidAssertion covers malformed tokens, bad signatures, unknown
	// signing keys and issuer or audience mismatches
	ErrInvalidAssertion = errors.New("invalid identity assertion")

	// ErrAssertionExpired is returned when the assertion is past its exp claim
	ErrAssertionExpired = errors.New("identity assertion expired")

	// ErrEmailNotVerified is returned when the provider has not verified the email
	ErrEmailNotVerified = errors.New("email not verified by identity provider")

	// ErrKeySetUnavailable is returned when the provider's signing keys cannot be fetched
	ErrKeySetUnavailable = errors.New("identity provider signing keys unavailable")
)

// VerifiedClaims are the facts an identity provider vouched for
type VerifiedClaims struct {
	Provider      models.AuthProvider
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// PictureURL returns the picture as a nullable column value
func (c *VerifiedClaims) PictureURL() *string {
	if c.Picture == "" {
		return nil
	}
	p := c.Picture
	return &p
}

// DisplayName falls back to the email when the provider sent no name
func (c *VerifiedClaims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// Verifier validates a raw assertion and returns its claims
type Verifier interface {
	Verify(ctx context.Context, rawAssertion string) (*VerifiedClaims, error)
}
