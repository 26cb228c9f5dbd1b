// Package models - social_oauth_request.go defines the temporary OAuth1 request
// token kept between the authorization redirect and the callback.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SocialOAuthRequest is a pending OAuth1 handshake. RequestSecret is sealed.
type SocialOAuthRequest struct {
	RequestToken  string    `db:"request_token"`
	RequestSecret string    `db:"request_secret"`
	UserID        uuid.UUID `db:"user_id"`
	Platform      string    `db:"platform"`
	CreatedAt     time.Time `db:"created_at"`
}
