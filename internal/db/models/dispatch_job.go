// Package models - dispatch_job.go defines the durable timer registration for a post.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DispatchJob is one persisted timer registration. Its ID is derived from the
// post ID, so registering the same post again replaces the previous row.
type DispatchJob struct {
	ID        string    `db:"id"`
	PostID    uuid.UUID `db:"post_id"`
	FireAt    time.Time `db:"fire_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DispatchJobID returns the job identifier used for postID.
func DispatchJobID(postID uuid.UUID) string {
	return "post:" + postID.String()
}
