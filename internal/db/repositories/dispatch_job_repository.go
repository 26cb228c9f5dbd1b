package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
)

// DispatchJobRepository persists timer registrations so they survive restarts
type DispatchJobRepository struct {
	db *sqlx.DB
}

// NewDispatchJobRepository creates a new DispatchJobRepository
func NewDispatchJobRepository(db *sqlx.DB) *DispatchJobRepository {
	return &DispatchJobRepository{db: db}
}

// Upsert registers a fire time for a post, replacing any existing registration
// with the same job ID.
func (r *DispatchJobRepository) Upsert(ctx context.Context, postID uuid.UUID, fireAt time.Time) (*models.DispatchJob, error) {
	now := time.Now()
	job := &models.DispatchJob{
		ID:        models.DispatchJobID(postID),
		PostID:    postID,
		FireAt:    fireAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
		INSERT INTO dispatch_jobs (id, post_id, fire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET fire_at = EXCLUDED.fire_at, updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, job.ID, job.PostID, job.FireAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert dispatch job: %w", err)
	}
	return job, nil
}

// Get returns the registration for a post. Returns (nil, nil) when none exists.
func (r *DispatchJobRepository) Get(ctx context.Context, postID uuid.UUID) (*models.DispatchJob, error) {
	query := `SELECT id, post_id, fire_at, created_at, updated_at FROM dispatch_jobs WHERE id = $1`

	var job models.DispatchJob
	err := r.db.GetContext(ctx, &job, query, models.DispatchJobID(postID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispatch job: %w", err)
	}
	return &job, nil
}

// List returns every registration ordered by fire time.
func (r *DispatchJobRepository) List(ctx context.Context) ([]models.DispatchJob, error) {
	query := `SELECT id, post_id, fire_at, created_at, updated_at FROM dispatch_jobs ORDER BY fire_at ASC`

	jobs := []models.DispatchJob{}
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list dispatch jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes the registration for a post. Deleting a missing job is not an error.
func (r *DispatchJobRepository) Delete(ctx context.Context, postID uuid.UUID) error {
	query := `DELETE FROM dispatch_jobs WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, models.DispatchJobID(postID)); err != nil {
		return fmt.Errorf("failed to delete dispatch job: %w", err)
	}
	return nil
}

// DeleteIfFireAt removes the registration only while it still carries fireAt, so a
// reschedule that landed while the old timer was firing is kept.
func (r *DispatchJobRepository) DeleteIfFireAt(ctx context.Context, postID uuid.UUID, fireAt time.Time) error {
	query := `DELETE FROM dispatch_jobs WHERE id = $1 AND fire_at = $2`
	if _, err := r.db.ExecContext(ctx, query, models.DispatchJobID(postID), fireAt); err != nil {
		return fmt.Errorf("failed to delete fired dispatch job: %w", err)
	}
	return nil
}
