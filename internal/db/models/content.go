// Package models - content.go defines the generated text artifact and its token cost.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Column limits enforced by the contents table.
const (
	MaxTopicLength = 200
	MaxToneLength  = 50
)

// Content is a generated text artifact. TokensUsed is recorded at creation and
// never recomputed; only Body changes afterwards.
type Content struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	Topic      string     `db:"topic" json:"topic"`
	Tone       string     `db:"tone" json:"tone"`
	Body       string     `db:"body" json:"content"`
	TokensUsed int        `db:"tokens_used" json:"tokens_used"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether userID may edit the content. Unowned content is
// editable by anyone, matching deployments that run without accounts.
func (c *Content) OwnedBy(userID *uuid.UUID) bool {
	if c.UserID == nil {
		return true
	}
	return userID != nil && *userID == *c.UserID
}
