package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PaymentEventRepository records processed payment webhook events for idempotency
type PaymentEventRepository struct {
	db *sqlx.DB
}

// NewPaymentEventRepository creates a new PaymentEventRepository
func NewPaymentEventRepository(db *sqlx.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

// MarkProcessed records an event ID. It returns false when the event was already
// recorded, meaning the delivery is a replay.
func (r *PaymentEventRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	query := `
		INSERT INTO payment_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, eventID, eventType, time.Now())
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return rows > 0, nil
}

// Forget removes an event record so a failed delivery can be retried by the sender.
func (r *PaymentEventRepository) Forget(ctx context.Context, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM payment_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("failed to delete payment event: %w", err)
	}
	return nil
}
