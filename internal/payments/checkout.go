// Package payments wraps Stripe Checkout: creating a hosted checkout session
// that pays for a set of scheduled posts, and verifying the signed webhook
// Stripe sends when that session completes.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/content-scheduler/content-scheduler/internal/config"
)

// MetadataPostIDs is the checkout metadata key listing the paid post IDs
const MetadataPostIDs = "post_ids"

// ErrNoPosts is returned when a checkout is requested for zero posts
var ErrNoPosts = errors.New("at least one post is required")

// CheckoutSession is the created session the client is redirected to
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// CheckoutCreator creates hosted checkout sessions for scheduled posts.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, postIDs []uuid.UUID, userID string) (*CheckoutSession, error)
}

// StripeCheckout implements CheckoutCreator against the Stripe API
type StripeCheckout struct {
	cfg config.PaymentsConfig
}

// NewStripeCheckout configures the Stripe API key and returns a checkout creator
func NewStripeCheckout(cfg config.PaymentsConfig) *StripeCheckout {
	stripe.Key = cfg.SecretKey
	return &StripeCheckout{cfg: cfg}
}

// CreateCheckoutSession creates a one-off payment session with one line item per post
func (s *StripeCheckout) CreateCheckoutSession(ctx context.Context, postIDs []uuid.UUID, userID string) (*CheckoutSession, error) {
	params, err := buildCheckoutParams(s.cfg, postIDs, userID)
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func buildCheckoutParams(cfg config.PaymentsConfig, postIDs []uuid.UUID, userID string) (*stripe.CheckoutSessionParams, error) {
	if len(postIDs) == 0 {
		return nil, ErrNoPosts
	}

	metadata := map[string]string{MetadataPostIDs: JoinPostIDs(postIDs)}
	if userID != "" {
		metadata["user_id"] = userID
	}

	return &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(cfg.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(cfg.ProductName),
					},
					UnitAmount: stripe.Int64(cfg.PricePerPostCents),
				},
				Quantity: stripe.Int64(int64(len(postIDs))),
			},
		},
		SuccessURL: stripe.String(cfg.SuccessURL),
		CancelURL:  stripe.String(cfg.CancelURL),
		Metadata:   metadata,
	}, nil
}

// JoinPostIDs encodes post IDs for checkout metadata
func JoinPostIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// SplitPostIDs decodes checkout metadata back into post IDs, skipping malformed entries
func SplitPostIDs(s string) []uuid.UUID {
	ids := []uuid.UUID{}
	for _, part := range strings.Split(s, ",") {
		if id, err := uuid.Parse(strings.TrimSpace(part)); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
