// Package jobs runs the background work of the scheduler: the Dispatcher that
// publishes one due post, the two dispatch strategies that decide when it runs
// (durable timers or a polling sweep), and housekeeping loops.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
)

// PostStore is the scheduled post persistence the dispatcher needs
type PostStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledPost, error)
	ListDue(ctx context.Context, statuses []models.PostStatus, now time.Time, limit int) ([]models.ScheduledPost, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.PostStatus, details repositories.TransitionDetails) (bool, error)
}

// ContentStore loads the text a post publishes
type ContentStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Content, error)
}

// UserStore loads post owners for their linked credentials
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// JobStore persists timer registrations
type JobStore interface {
	Upsert(ctx context.Context, postID uuid.UUID, fireAt time.Time) (*models.DispatchJob, error)
	List(ctx context.Context) ([]models.DispatchJob, error)
	Delete(ctx context.Context, postID uuid.UUID) error
	DeleteIfFireAt(ctx context.Context, postID uuid.UUID, fireAt time.Time) error
}

var (
	_ PostStore    = (*repositories.ScheduledPostRepository)(nil)
	_ ContentStore = (*repositories.ContentRepository)(nil)
	_ UserStore    = (*repositories.UserRepository)(nil)
	_ JobStore     = (*repositories.DispatchJobRepository)(nil)
)
