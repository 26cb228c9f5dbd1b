package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
)

const postColumns = `id, content_id, user_id, scheduled_time, platform, status, checkout_session_id,
		       failure_reason, external_id, posted_at, created_at, updated_at`

// TransitionDetails carries the optional columns written alongside a status change.
type TransitionDetails struct {
	FailureReason string
	ExternalID    string
}

// ScheduledPostRepository handles scheduled post records and their status transitions
type ScheduledPostRepository struct {
	db *sqlx.DB
}

// NewScheduledPostRepository creates a new ScheduledPostRepository
func NewScheduledPostRepository(db *sqlx.DB) *ScheduledPostRepository {
	return &ScheduledPostRepository{db: db}
}

// Create inserts a post in the pending state, assigning its ID and timestamps.
func (r *ScheduledPostRepository) Create(ctx context.Context, post *models.ScheduledPost) error {
	post.ID = uuid.New()
	post.Status = models.PostStatusPending
	post.CreatedAt = time.Now()
	post.UpdatedAt = post.CreatedAt

	query := `
		INSERT INTO scheduled_posts (id, content_id, user_id, scheduled_time, platform, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		post.ID,
		post.ContentID,
		post.UserID,
		post.ScheduledTime,
		post.Platform,
		post.Status,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled post: %w", err)
	}
	return nil
}

// GetByID retrieves a post. Returns (nil, nil) when not found.
func (r *ScheduledPostRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = $1`

	var post models.ScheduledPost
	err := r.db.GetContext(ctx, &post, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled post: %w", err)
	}
	return &post, nil
}

// List returns posts ordered by scheduled time. A nil userID returns every post.
func (r *ScheduledPostRepository) List(ctx context.Context, userID *uuid.UUID) ([]models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts`
	args := []interface{}{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY scheduled_time ASC`

	posts := []models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list scheduled posts: %w", err)
	}
	return posts, nil
}

// ListDue returns up to limit posts in one of statuses whose scheduled time is at
// or before now, oldest first.
func (r *ScheduledPostRepository) ListDue(ctx context.Context, statuses []models.PostStatus, now time.Time, limit int) ([]models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = ANY($1) AND scheduled_time <= $2
		ORDER BY scheduled_time ASC
		LIMIT $3`

	posts := []models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, pq.Array(statusStrings(statuses)), now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due posts: %w", err)
	}
	return posts, nil
}

// ListByStatus returns every post currently in one of statuses.
func (r *ScheduledPostRepository) ListByStatus(ctx context.Context, statuses ...models.PostStatus) ([]models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = ANY($1)
		ORDER BY scheduled_time ASC`

	posts := []models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, pq.Array(statusStrings(statuses))); err != nil {
		return nil, fmt.Errorf("failed to list posts by status: %w", err)
	}
	return posts, nil
}

func statusStrings(statuses []models.PostStatus) []string {
	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}
	return values
}

// TransitionStatus moves a post from one status to another only if it is still in
// from. It returns false when the post was not in from (already handled, raced, or
// missing). Transitions outside the status table return models.ErrInvalidTransition
// without touching the database.
func (r *ScheduledPostRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.PostStatus, details TransitionDetails) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}

	now := time.Now()
	var postedAt *time.Time
	if to == models.PostStatusPosted {
		postedAt = &now
	}

	query := `
		UPDATE scheduled_posts
		SET status = $1,
		    failure_reason = COALESCE($2, failure_reason),
		    external_id = COALESCE($3, external_id),
		    posted_at = COALESCE($4, posted_at),
		    updated_at = $5
		WHERE id = $6 AND status = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		to,
		nullableString(details.FailureReason),
		nullableString(details.ExternalID),
		postedAt,
		now,
		id,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition post %s to %s: %w", id, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// MarkPaidBySession clears every pending post linked to a checkout session and
// returns the posts that changed. Posts in any other status are untouched.
func (r *ScheduledPostRepository) MarkPaidBySession(ctx context.Context, sessionID string) ([]models.ScheduledPost, error) {
	query := `
		UPDATE scheduled_posts
		SET status = $1, updated_at = $2
		WHERE checkout_session_id = $3 AND status = $4
		RETURNING ` + postColumns

	posts := []models.ScheduledPost{}
	err := r.db.SelectContext(ctx, &posts, query,
		models.PostStatusPaid, time.Now(), sessionID, models.PostStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark session posts paid: %w", err)
	}
	return posts, nil
}

// MarkPaidByIDs clears the listed posts that are still pending and links them to
// sessionID, so a payment on a session that was later superseded still reaches
// the posts it paid for. It returns the posts that changed.
func (r *ScheduledPostRepository) MarkPaidByIDs(ctx context.Context, sessionID string, postIDs []uuid.UUID) ([]models.ScheduledPost, error) {
	ids := make([]string, len(postIDs))
	for i, id := range postIDs {
		ids[i] = id.String()
	}
	query := `
		UPDATE scheduled_posts
		SET status = $1, checkout_session_id = $2, updated_at = $3
		WHERE id = ANY($4::uuid[]) AND status = $5
		RETURNING ` + postColumns

	posts := []models.ScheduledPost{}
	err := r.db.SelectContext(ctx, &posts, query,
		models.PostStatusPaid, sessionID, time.Now(), pq.Array(ids), models.PostStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark posts paid: %w", err)
	}
	return posts, nil
}

// ListBySession returns the posts linked to a checkout session that are in status.
func (r *ScheduledPostRepository) ListBySession(ctx context.Context, sessionID string, status models.PostStatus) ([]models.ScheduledPost, error) {
	query := `SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE checkout_session_id = $1 AND status = $2
		ORDER BY scheduled_time ASC`

	posts := []models.ScheduledPost{}
	if err := r.db.SelectContext(ctx, &posts, query, sessionID, status); err != nil {
		return nil, fmt.Errorf("failed to list session posts: %w", err)
	}
	return posts, nil
}

// LinkCheckoutSession records which checkout session pays for the given pending posts.
// It returns the number of posts linked.
func (r *ScheduledPostRepository) LinkCheckoutSession(ctx context.Context, postIDs []uuid.UUID, sessionID string) (int64, error) {
	ids := make([]string, len(postIDs))
	for i, id := range postIDs {
		ids[i] = id.String()
	}
	query := `
		UPDATE scheduled_posts
		SET checkout_session_id = $1, updated_at = $2
		WHERE id = ANY($3::uuid[]) AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, sessionID, time.Now(), pq.Array(ids), models.PostStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to link checkout session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows, nil
}

// Reschedule moves the scheduled time of a post that has not reached a terminal
// state. Returns false when the post is missing or terminal.
func (r *ScheduledPostRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE scheduled_posts
		SET scheduled_time = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query, at, time.Now(), id, models.PostStatusPending, models.PostStatusPaid)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule post: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
