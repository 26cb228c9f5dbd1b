package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
)

// SocialOAuthRequestRepository stores OAuth1 request tokens between redirect and callback
type SocialOAuthRequestRepository struct {
	db *sqlx.DB
}

// NewSocialOAuthRequestRepository creates a new SocialOAuthRequestRepository
func NewSocialOAuthRequestRepository(db *sqlx.DB) *SocialOAuthRequestRepository {
	return &SocialOAuthRequestRepository{db: db}
}

// Create stores a pending request token.
func (r *SocialOAuthRequestRepository) Create(ctx context.Context, req *models.SocialOAuthRequest) error {
	req.CreatedAt = time.Now()
	query := `
		INSERT INTO social_oauth_requests (request_token, request_secret, user_id, platform, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, req.RequestToken, req.RequestSecret, req.UserID, req.Platform, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store oauth request: %w", err)
	}
	return nil
}

// Consume deletes and returns a pending request token so it can be used once.
// Returns (nil, nil) when the token is unknown or already used.
func (r *SocialOAuthRequestRepository) Consume(ctx context.Context, requestToken string) (*models.SocialOAuthRequest, error) {
	query := `
		DELETE FROM social_oauth_requests
		WHERE request_token = $1
		RETURNING request_token, request_secret, user_id, platform, created_at
	`
	var req models.SocialOAuthRequest
	err := r.db.GetContext(ctx, &req, query, requestToken)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth request: %w", err)
	}
	return &req, nil
}

// DeleteOlderThan removes abandoned request tokens created before cutoff.
func (r *SocialOAuthRequestRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM social_oauth_requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge oauth requests: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows, nil
}
