// Package webhooks handles inbound payment notifications. Each request is
// authenticated by its signature before any state is read or written.
package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/jobs"
	"github.com/content-scheduler/content-scheduler/internal/payments"
	"github.com/content-scheduler/content-scheduler/internal/telemetry"
)

// maxPayloadBytes is the largest webhook body accepted
const maxPayloadBytes = 65536

// Outcome labels for telemetry.PaymentWebhookEventsTotal
const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeRejected  = "rejected"
	outcomeError     = "error"
)

// StripeWebhookHandler clears scheduled posts for dispatch when their checkout
// session is paid
type StripeWebhookHandler struct {
	verifier *payments.WebhookVerifier
	posts    *repositories.ScheduledPostRepository
	events   *repositories.PaymentEventRepository
	strategy jobs.Strategy
}

// NewStripeWebhookHandler creates a new webhook handler
func NewStripeWebhookHandler(db *sqlx.DB, verifier *payments.WebhookVerifier, strategy jobs.Strategy) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		verifier: verifier,
		posts:    repositories.NewScheduledPostRepository(db),
		events:   repositories.NewPaymentEventRepository(db),
		strategy: strategy,
	}
}

// @Summary      Receive Stripe webhook
// @Description  Receives Stripe events. The Stripe-Signature header is verified against the endpoint secret
// @Description  before anything is read from the database. checkout.session.completed with payment_status=paid
// @Description  moves the pending posts linked to that session to paid and registers them for dispatch.
// @Description  Replayed event IDs are acknowledged without reprocessing.
// @Tags         Webhooks
// @Accept       json
// @Success      200  "Event accepted"
// @Failure      400  {object}  map[string]interface{}  "Invalid payload or signature"
// @Failure      500  {object}  map[string]interface{}  "Event could not be applied; Stripe retries"
// @Router       /webhooks/stripe [post]
// HandleWebhook processes incoming Stripe events
// POST /webhooks/stripe
func (h *StripeWebhookHandler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes))
	if err != nil {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		if errors.Is(err, payments.ErrInvalidSignature) {
			slog.Warn("rejected stripe webhook with invalid signature", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	eventType := string(event.Type)

	if eventType != payments.EventCheckoutCompleted {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeIgnored).Inc()
		c.Status(http.StatusOK)
		return
	}

	completed, err := payments.CompletedCheckoutFromEvent(event)
	if err != nil {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if !completed.Paid {
		// Delayed payment methods complete unpaid and send a later event.
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeIgnored).Inc()
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	fresh, err := h.events.MarkProcessed(ctx, event.ID, eventType)
	if err != nil {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeError).Inc()
		slog.Error("failed to record payment event", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event"})
		return
	}
	if !fresh {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeDuplicate).Inc()
		slog.Info("ignoring replayed payment event", "event_id", event.ID)
		c.Status(http.StatusOK)
		return
	}

	if err := h.applyPayment(ctx, completed); err != nil {
		telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeError).Inc()
		slog.Error("failed to apply payment", "event_id", event.ID, "session_id", completed.SessionID, "error", err)
		if ferr := h.events.Forget(ctx, event.ID); ferr != nil {
			slog.Error("failed to forget payment event", "event_id", event.ID, "error", ferr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply payment"})
		return
	}

	telemetry.PaymentWebhookEventsTotal.WithLabelValues(eventType, outcomeProcessed).Inc()
	c.Status(http.StatusOK)
}

// applyPayment marks the session's pending posts paid, along with any pending
// post named in the session metadata that a later checkout relinked, then
// registers every paid post of the session. Registration replaces earlier
// entries, so a retried event re-registers posts a failed attempt had already
// marked.
func (h *StripeWebhookHandler) applyPayment(ctx context.Context, completed *payments.CompletedCheckout) error {
	sessionID := completed.SessionID
	cleared, err := h.posts.MarkPaidBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if ids := payments.SplitPostIDs(completed.PostIDs); len(ids) > 0 {
		relinked, err := h.posts.MarkPaidByIDs(ctx, sessionID, ids)
		if err != nil {
			return err
		}
		cleared = append(cleared, relinked...)
	}
	paid, err := h.posts.ListBySession(ctx, sessionID, models.PostStatusPaid)
	if err != nil {
		return err
	}

	for _, post := range paid {
		if err := h.strategy.Schedule(ctx, post.ID, post.ScheduledTime); err != nil {
			return err
		}
	}

	slog.Info("checkout session paid", "session_id", sessionID, "cleared", len(cleared), "registered", len(paid))
	return nil
}
