// Package models - scheduled_post.go defines the ScheduledPost and the status
// machine that governs it: pending -> paid -> posted, with failed and cancelled
// as terminal states.
package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostStatus is the lifecycle state of a scheduled post
type PostStatus string

const (
	PostStatusPending   PostStatus = "pending"
	PostStatusPaid      PostStatus = "paid"
	PostStatusPosted    PostStatus = "posted"
	PostStatusFailed    PostStatus = "failed"
	PostStatusCancelled PostStatus = "cancelled"
)

// ErrInvalidTransition is returned for a status change outside the transition table.
var ErrInvalidTransition = errors.New("invalid post status transition")

// postTransitions lists, for each target status, the statuses it may be entered from.
var postTransitions = map[PostStatus][]PostStatus{
	PostStatusPaid:      {PostStatusPending},
	PostStatusPosted:    {PostStatusPaid},
	PostStatusFailed:    {PostStatusPaid, PostStatusPending},
	PostStatusCancelled: {PostStatusPending, PostStatusPaid},
}

// CanTransition reports whether a post in status from may move to status to.
func CanTransition(from, to PostStatus) bool {
	for _, s := range postTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s PostStatus) IsTerminal() bool {
	return s == PostStatusPosted || s == PostStatusFailed || s == PostStatusCancelled
}

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusPending, PostStatusPaid, PostStatusPosted, PostStatusFailed, PostStatusCancelled:
		return true
	}
	return false
}

// ScheduledPost is the intent to publish one Content to one platform at a given time.
type ScheduledPost struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	ContentID     uuid.UUID  `db:"content_id" json:"content_id"`
	UserID        *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	ScheduledTime time.Time  `db:"scheduled_time" json:"scheduled_time"`
	Platform      string     `db:"platform" json:"platform"`
	Status        PostStatus `db:"status" json:"status"`

	CheckoutSessionID *string    `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	FailureReason     *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	ExternalID        *string    `db:"external_id" json:"external_id,omitempty"`
	PostedAt          *time.Time `db:"posted_at" json:"posted_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsDue reports whether the post's scheduled time has been reached at now.
func (p *ScheduledPost) IsDue(now time.Time) bool {
	return !p.ScheduledTime.After(now)
}

// OwnedBy reports whether userID may manage the post. Unowned posts are
// manageable by anyone.
func (p *ScheduledPost) OwnedBy(userID *uuid.UUID) bool {
	if p.UserID == nil {
		return true
	}
	return userID != nil && *userID == *p.UserID
}
