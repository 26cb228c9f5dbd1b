package payments

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// EventCheckoutCompleted is the only event type that changes post state
const EventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrInvalidSignature is returned when the Stripe-Signature header does not verify
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload is returned when a verified body is not a usable event
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// CompletedCheckout is the part of a completed checkout session we act on
type CompletedCheckout struct {
	SessionID string
	Paid      bool
	PostIDs   string
}

// WebhookVerifier checks Stripe webhook signatures against the endpoint secret
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier creates a verifier for the endpoint secret
func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// Verify authenticates payload against the signature header and parses the event
func (v *WebhookVerifier) Verify(payload []byte, signatureHeader string) (*stripe.Event, error) {
	if v.secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event has no id", ErrInvalidPayload)
	}
	return &event, nil
}

// CompletedCheckoutFromEvent extracts the session from a checkout.session.completed event
func CompletedCheckoutFromEvent(event *stripe.Event) (*CompletedCheckout, error) {
	if string(event.Type) != EventCheckoutCompleted {
		return nil, fmt.Errorf("%w: event type %s is not %s", ErrInvalidPayload, event.Type, EventCheckoutCompleted)
	}

	var sess stripe.CheckoutSession
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event has no data", ErrInvalidPayload)
	}
	if err := sess.UnmarshalJSON(event.Data.Raw); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal checkout session: %v", ErrInvalidPayload, err)
	}
	if sess.ID == "" {
		return nil, fmt.Errorf("%w: checkout session has no id", ErrInvalidPayload)
	}

	return &CompletedCheckout{
		SessionID: sess.ID,
		Paid:      sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		PostIDs:   sess.Metadata[MetadataPostIDs],
	}, nil
}
