package models

import (
	"time"
)

// AuthProvider identifies how a user proves their identity
type AuthProvider string

const (
	AuthProviderGoogle AuthProvider = "google"
	AuthProviderLocal  AuthProvider = "local"
)

// User is a local identity bound to at most one external subject
type User struct {
	ID                     int64        `json:"id" db:"id"`
	Name                   string       `json:"name" db:"name"`
	Email                  string       `json:"email" db:"email"`
	ExternalID             *string      `json:"-" db:"external_id"` // provider subject, e.g. Google "sub"
	ProfilePictureURL      *string      `json:"profile_picture_url,omitempty" db:"profile_picture_url"`
	EmailVerified          bool         `json:"email_verified" db:"email_verified"`
	AuthProvider           AuthProvider `json:"auth_provider" db:"auth_provider"`
	NameManuallyUpdated    bool         `json:"-" db:"name_manually_updated"`
	PictureManuallyUpdated bool         `json:"-" db:"picture_manually_updated"`
	CreatedAt              time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
	LastLoginAt            *time.Time   `json:"last_login_at,omitempty" db:"last_login_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewExternalUser creates a user bound to an external provider subject.
// The provider has already verified the email.
func NewExternalUser(provider AuthProvider, externalID, email, name string, picture *string, now time.Time) *User {
	return &User{
		Name:              name,
		Email:             email,
		ExternalID:        &externalID,
		ProfilePictureURL: picture,
		EmailVerified:     true,
		AuthProvider:      provider,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastLoginAt:       &now,
	}
}

// ApplyProviderProfile copies provider supplied fields that have not been
// overridden locally. It reports whether anything changed.
func (u *User) ApplyProviderProfile(name string, picture *string) bool {
	changed := false
	if !u.NameManuallyUpdated && name != "" && name != u.Name {
		u.Name = name
		changed = true
	}
	if !u.PictureManuallyUpdated && picture != nil && !stringPtrEqual(u.ProfilePictureURL, picture) {
		p := *picture
		u.ProfilePictureURL = &p
		changed = true
	}
	return changed
}

// ClearManualOverrides lets the next login refresh the profile from the provider
func (u *User) ClearManualOverrides() {
	u.NameManuallyUpdated = false
	u.PictureManuallyUpdated = false
}

// Profile returns the public projection of the user
func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:                u.ID,
		Name:              u.Name,
		Email:             u.Email,
		ProfilePictureURL: u.ProfilePictureURL,
		EmailVerified:     u.EmailVerified,
		AuthProvider:      u.AuthProvider,
		CreatedAt:         u.CreatedAt,
		LastLoginAt:       u.LastLoginAt,
	}
}

// UserProfile is what clients see of a user
type UserProfile struct {
	ID                int64        `json:"id"`
	Name              string       `json:"name"`
	Email             string       `json:"email"`
	ProfilePictureURL *string      `json:"profile_picture_url,omitempty"`
	EmailVerified     bool         `json:"email_verified"`
	AuthProvider      AuthProvider `json:"auth_provider"`
	CreatedAt         time.Time    `json:"created_at"`
	LastLoginAt       *time.Time   `json:"last_login_at,omitempty"`
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
