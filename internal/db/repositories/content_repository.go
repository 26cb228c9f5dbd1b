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

const contentColumns = `id, user_id, topic, tone, body, tokens_used, created_at, updated_at`

// ContentRepository handles generated content records
type ContentRepository struct {
	db *sqlx.DB
}

// NewContentRepository creates a new ContentRepository
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Create inserts a content record, assigning its ID and timestamps.
func (r *ContentRepository) Create(ctx context.Context, content *models.Content) error {
	content.ID = uuid.New()
	content.CreatedAt = time.Now()
	content.UpdatedAt = content.CreatedAt

	query := `
		INSERT INTO contents (id, user_id, topic, tone, body, tokens_used, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		content.ID,
		content.UserID,
		content.Topic,
		content.Tone,
		content.Body,
		content.TokensUsed,
		content.CreatedAt,
		content.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

// GetByID retrieves a content record. Returns (nil, nil) when not found.
func (r *ContentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Content, error) {
	query := `SELECT ` + contentColumns + ` FROM contents WHERE id = $1`

	var content models.Content
	err := r.db.GetContext(ctx, &content, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return &content, nil
}

// UpdateBody replaces the body text. Token cost is deliberately left untouched.
// Returns false when no content with that ID exists.
func (r *ContentRepository) UpdateBody(ctx context.Context, id uuid.UUID, body string) (bool, error) {
	query := `UPDATE contents SET body = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, body, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to update content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// List returns content newest first. A nil userID returns every record.
func (r *ContentRepository) List(ctx context.Context, userID *uuid.UUID) ([]models.Content, error) {
	query := `SELECT ` + contentColumns + ` FROM contents`
	args := []interface{}{}
	if userID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, *userID)
	}
	query += ` ORDER BY created_at DESC`

	contents := []models.Content{}
	if err := r.db.SelectContext(ctx, &contents, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	return contents, nil
}
