// Package scheduling implements the scheduled post endpoints. Creating or
// rescheduling a post registers it with the dispatch strategy once it holds the
// status the dispatcher expects; in payment-gated deployments that happens in
// the payment webhook instead.
package scheduling

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/jobs"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

// maxPlatformLength matches the scheduled_posts.platform column
const maxPlatformLength = 50

// scheduledMessage is returned on a successful schedule_post
const scheduledMessage = "Post scheduled successfully. Proceeding to billing."

// Handlers serves the scheduled post endpoints
type Handlers struct {
	posts    *repositories.ScheduledPostRepository
	contents *repositories.ContentRepository
	strategy jobs.Strategy
	// dispatchable is the status a post must hold before it is registered
	dispatchable models.PostStatus
	skew         time.Duration
	now          func() time.Time
}

// NewHandlers creates a new scheduling Handlers instance. dispatchable is the
// dispatcher's expected status; skew is how far in the past a requested time may be.
func NewHandlers(db *sqlx.DB, strategy jobs.Strategy, dispatchable models.PostStatus, skew time.Duration) *Handlers {
	return &Handlers{
		posts:        repositories.NewScheduledPostRepository(db),
		contents:     repositories.NewContentRepository(db),
		strategy:     strategy,
		dispatchable: dispatchable,
		skew:         skew,
		now:          time.Now,
	}
}

// ScheduleRequest is the body of POST /api/v1/schedule_post
type ScheduleRequest struct {
	ContentID     string `json:"content_id"`
	ScheduledTime string `json:"scheduled_time"`
	Platform      string `json:"platform"`
}

// RescheduleRequest is the body of PUT /api/v1/scheduled_posts/:id
type RescheduleRequest struct {
	ScheduledTime string `json:"scheduled_time"`
}

// PostSummary is one entry of GET /api/v1/get_scheduled_posts
type PostSummary struct {
	ID            uuid.UUID         `json:"id"`
	ContentID     uuid.UUID         `json:"content_id"`
	ScheduledTime string            `json:"scheduled_time"`
	Platform      string            `json:"platform"`
	Status        models.PostStatus `json:"status"`
}

// @Summary      Schedule post
// @Description  Schedule stored content for publication on a platform at a future time.
// @Tags         Scheduling
// @Accept       json
// @Produce      json
// @Param        body  body  ScheduleRequest  true  "Content, time and platform"
// @Success      201  {object}  map[string]interface{}  "success, post_id, message"
// @Failure      400  {object}  map[string]interface{}  "Missing or malformed fields, or a time in the past"
// @Failure      404  {object}  map[string]interface{}  "Content not found"
// @Router       /api/v1/schedule_post [post]
// ScheduleHandler creates a pending post
// POST /api/v1/schedule_post
func (h *Handlers) ScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ScheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.ContentID == "" || req.ScheduledTime == "" || strings.TrimSpace(req.Platform) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content_id, scheduled_time and platform are required"})
			return
		}
		contentID, err := uuid.Parse(req.ContentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content_id"})
			return
		}
		platform := social.NormalizePlatform(req.Platform)
		if utf8.RuneCountInString(platform) > maxPlatformLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "platform is too long"})
			return
		}
		at, ok := h.parseFutureTime(c, req.ScheduledTime)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		userID := middleware.CurrentUserID(c)
		content, err := h.contents.GetByID(ctx, contentID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load content"})
			return
		}
		if content == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
			return
		}
		if !content.OwnedBy(userID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Content belongs to another user"})
			return
		}

		post := &models.ScheduledPost{
			ContentID:     contentID,
			UserID:        userID,
			ScheduledTime: at,
			Platform:      platform,
		}
		if err := h.posts.Create(ctx, post); err != nil {
			slog.Error("failed to create scheduled post", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule post"})
			return
		}

		if !h.register(c, post) {
			return
		}

		slog.Info("post scheduled", "post_id", post.ID, "platform", platform, "scheduled_time", at)
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"post_id": post.ID,
			"message": scheduledMessage,
		})
	}
}

// ListHandler returns scheduled posts in scheduled-time order
// GET /api/v1/get_scheduled_posts
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		posts, err := h.posts.List(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scheduled posts"})
			return
		}

		out := make([]PostSummary, 0, len(posts))
		for _, p := range posts {
			out = append(out, PostSummary{
				ID:            p.ID,
				ContentID:     p.ContentID,
				ScheduledTime: p.ScheduledTime.UTC().Format(time.RFC3339),
				Platform:      p.Platform,
				Status:        p.Status,
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// RescheduleHandler moves a post that has not finished to a new time. The
// strategy registration is replaced, so the post fires once at the new time.
// PUT /api/v1/scheduled_posts/:id
func (h *Handlers) RescheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		post, ok := h.loadOwnedPost(c)
		if !ok {
			return
		}
		var req RescheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.ScheduledTime == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_time is required"})
			return
		}
		at, ok := h.parseFutureTime(c, req.ScheduledTime)
		if !ok {
			return
		}
		if post.Status.IsTerminal() {
			c.JSON(http.StatusConflict, gin.H{"error": "Post is already " + string(post.Status)})
			return
		}

		moved, err := h.posts.Reschedule(c.Request.Context(), post.ID, at)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reschedule post"})
			return
		}
		if !moved {
			c.JSON(http.StatusConflict, gin.H{"error": "Post can no longer be rescheduled"})
			return
		}
		post.ScheduledTime = at

		if !h.register(c, post) {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"post_id":        post.ID,
			"scheduled_time": at.Format(time.RFC3339),
		})
	}
}

// CancelHandler cancels a post that has not finished and removes its registration
// POST /api/v1/scheduled_posts/:id/cancel
func (h *Handlers) CancelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		post, ok := h.loadOwnedPost(c)
		if !ok {
			return
		}
		if post.Status.IsTerminal() {
			c.JSON(http.StatusConflict, gin.H{"error": "Post is already " + string(post.Status)})
			return
		}

		ctx := c.Request.Context()
		cancelled, err := h.posts.TransitionStatus(ctx, post.ID, post.Status, models.PostStatusCancelled, repositories.TransitionDetails{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel post"})
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, gin.H{"error": "Post changed state; reload and try again"})
			return
		}

		if err := h.strategy.Cancel(ctx, post.ID); err != nil {
			// The dispatcher re-checks status before publishing, so a stale
			// registration only produces a skipped attempt.
			slog.Warn("failed to deregister cancelled post", "post_id", post.ID, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "status": models.PostStatusCancelled})
	}
}

// register hands the post to the strategy when it is dispatchable. It writes
// the error response and returns false on failure.
func (h *Handlers) register(c *gin.Context, post *models.ScheduledPost) bool {
	if post.Status != h.dispatchable {
		return true
	}
	if err := h.strategy.Schedule(c.Request.Context(), post.ID, post.ScheduledTime); err != nil {
		slog.Error("failed to register post for dispatch", "post_id", post.ID, "strategy", h.strategy.Name(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Post saved but could not be registered for dispatch",
			"post_id": post.ID,
		})
		return false
	}
	return true
}

func (h *Handlers) parseFutureTime(c *gin.Context, raw string) (time.Time, bool) {
	at, err := ParseScheduledTime(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, false
	}
	if at.Before(h.now().Add(-h.skew)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_time is in the past"})
		return time.Time{}, false
	}
	return at, true
}

func (h *Handlers) loadOwnedPost(c *gin.Context) (*models.ScheduledPost, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return nil, false
	}
	post, err := h.posts.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load post"})
		return nil, false
	}
	if post == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Scheduled post not found"})
		return nil, false
	}
	if !post.OwnedBy(middleware.CurrentUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Post belongs to another user"})
		return nil, false
	}
	return post, true
}
