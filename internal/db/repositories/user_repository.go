// Package repositories implements the data access layer for the content scheduler.
// Each repository type encapsulates all database queries for a domain entity;
// handlers and background jobs never issue SQL directly.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
)

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("record already exists")

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const userColumns = `id, username, email, password_hash, social_access_token, social_access_secret,
		       social_screen_name, created_at, updated_at`

// UserRepository handles user database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user, assigning its ID and timestamps.
// A duplicate username or email yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID. Returns (nil, nil) when not found.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByUsername retrieves a user by username. Returns (nil, nil) when not found.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username", username)
}

// GetByEmail retrieves a user by email. Returns (nil, nil) when not found.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

func (r *UserRepository) getOne(ctx context.Context, column string, value interface{}) (*models.User, error) {
	// column is always one of the fixed names above, never caller input.
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return &user, nil
}

// SetSocialCredentials stores the sealed social token pair and screen name.
func (r *UserRepository) SetSocialCredentials(ctx context.Context, userID uuid.UUID, sealedToken, sealedSecret, screenName string) error {
	query := `
		UPDATE users
		SET social_access_token = $1, social_access_secret = $2, social_screen_name = $3, updated_at = $4
		WHERE id = $5
	`
	var name *string
	if screenName != "" {
		name = &screenName
	}
	_, err := r.db.ExecContext(ctx, query, sealedToken, sealedSecret, name, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to store social credentials: %w", err)
	}
	return nil
}

// ClearSocialCredentials removes the stored social token pair.
func (r *UserRepository) ClearSocialCredentials(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET social_access_token = NULL, social_access_secret = NULL, social_screen_name = NULL, updated_at = $1
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to clear social credentials: %w", err)
	}
	return nil
}
