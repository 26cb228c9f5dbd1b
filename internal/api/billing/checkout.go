// Package billing implements checkout session creation for scheduled posts.
package billing

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
	"github.com/content-scheduler/content-scheduler/internal/payments"
)

// maxPostsPerCheckout bounds the line items of one session
const maxPostsPerCheckout = 50

// CheckoutHandlers creates hosted checkout sessions
type CheckoutHandlers struct {
	checkout payments.CheckoutCreator
	posts    *repositories.ScheduledPostRepository
}

// NewCheckoutHandlers creates a new CheckoutHandlers instance. A nil checkout
// means payments are disabled.
func NewCheckoutHandlers(db *sqlx.DB, checkout payments.CheckoutCreator) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		posts:    repositories.NewScheduledPostRepository(db),
	}
}

// CheckoutRequest is the body of POST /api/v1/create_checkout_session
type CheckoutRequest struct {
	PostIDs []string `json:"post_ids"`
}

// @Summary      Create checkout session
// @Description  Create a Stripe Checkout session paying for the given pending posts and link the posts to it.
// @Tags         Payments
// @Accept       json
// @Produce      json
// @Param        body  body  CheckoutRequest  true  "Posts to pay for"
// @Success      200  {object}  payments.CheckoutSession
// @Failure      400  {object}  map[string]interface{}  "Missing or malformed post IDs"
// @Failure      404  {object}  map[string]interface{}  "Post not found"
// @Failure      409  {object}  map[string]interface{}  "Post is not pending"
// @Failure      502  {object}  map[string]interface{}  "Payment provider error"
// @Failure      503  {object}  map[string]interface{}  "Payments disabled"
// @Router       /api/v1/create_checkout_session [post]
// CreateSessionHandler creates a checkout session for pending posts
// POST /api/v1/create_checkout_session
func (h *CheckoutHandlers) CreateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.checkout == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments are not enabled"})
			return
		}

		var req CheckoutRequest
		if err := c.ShouldBindJSON(&req); err != nil || len(req.PostIDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "post_ids is required"})
			return
		}
		if len(req.PostIDs) > maxPostsPerCheckout {
			c.JSON(http.StatusBadRequest, gin.H{"error": "too many posts for one checkout"})
			return
		}

		ids := make([]uuid.UUID, 0, len(req.PostIDs))
		seen := make(map[uuid.UUID]bool, len(req.PostIDs))
		for _, raw := range req.PostIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id: " + raw})
				return
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}

		ctx := c.Request.Context()
		userID := middleware.CurrentUserID(c)
		for _, id := range ids {
			post, err := h.posts.GetByID(ctx, id)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load post"})
				return
			}
			if post == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Scheduled post not found: " + id.String()})
				return
			}
			if !post.OwnedBy(userID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Post belongs to another user"})
				return
			}
			if post.Status != models.PostStatusPending {
				c.JSON(http.StatusConflict, gin.H{"error": "Post " + id.String() + " is already " + string(post.Status)})
				return
			}
		}

		owner := ""
		if userID != nil {
			owner = userID.String()
		}
		session, err := h.checkout.CreateCheckoutSession(ctx, ids, owner)
		if err != nil {
			slog.Error("failed to create checkout session", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		linked, err := h.posts.LinkCheckoutSession(ctx, ids, session.ID)
		if err != nil {
			slog.Error("failed to link checkout session", "session_id", session.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record checkout session"})
			return
		}
		if linked != int64(len(ids)) {
			slog.Warn("checkout session linked fewer posts than requested",
				"session_id", session.ID, "requested", len(ids), "linked", linked)
		}

		c.JSON(http.StatusOK, session)
	}
}
