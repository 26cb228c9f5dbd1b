// Package models - user.go defines the User account with its bcrypt password hash
// and the sealed social-platform token pair written by the OAuth linking flow.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`

	// Sealed (AES-GCM) access token pair for the linked social account.
	SocialAccessToken  *string `db:"social_access_token" json:"-"`
	SocialAccessSecret *string `db:"social_access_secret" json:"-"`
	SocialScreenName   *string `db:"social_screen_name" json:"social_screen_name,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasSocialCredentials reports whether both halves of the token pair are stored.
func (u *User) HasSocialCredentials() bool {
	return u.SocialAccessToken != nil && *u.SocialAccessToken != "" &&
		u.SocialAccessSecret != nil && *u.SocialAccessSecret != ""
}
