// Package content implements the content endpoints: generating post text with
// the configured provider, editing it, and the dashboard listing.
package content

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/generation"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
)

// Handlers serves content generation and editing
type Handlers struct {
	generator generation.Generator
	contents  *repositories.ContentRepository
	posts     *repositories.ScheduledPostRepository
}

// NewHandlers creates a new content Handlers instance
func NewHandlers(db *sqlx.DB, generator generation.Generator) *Handlers {
	return &Handlers{
		generator: generator,
		contents:  repositories.NewContentRepository(db),
		posts:     repositories.NewScheduledPostRepository(db),
	}
}

// GenerateRequest is the body of POST /api/v1/generate_content
type GenerateRequest struct {
	Topic string `json:"topic"`
	Tone  string `json:"tone"`
}

// UpdateRequest is the body of POST /api/v1/update_content
type UpdateRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// @Summary      Generate content
// @Description  Generate post text about a topic in a tone and store it with its token cost.
// @Tags         Content
// @Accept       json
// @Produce      json
// @Param        body  body  GenerateRequest  true  "Topic and tone"
// @Success      200  {object}  map[string]interface{}  "id, content, tokens_used"
// @Failure      400  {object}  map[string]interface{}  "Missing topic or tone"
// @Failure      502  {object}  map[string]interface{}  "Generation provider error"
// @Failure      503  {object}  map[string]interface{}  "Generation not configured"
// @Router       /api/v1/generate_content [post]
// GenerateHandler generates and stores new content
// POST /api/v1/generate_content
func (h *Handlers) GenerateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		topic := strings.TrimSpace(req.Topic)
		tone := strings.TrimSpace(req.Tone)
		if topic == "" || tone == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic and tone are required"})
			return
		}
		if utf8.RuneCountInString(topic) > models.MaxTopicLength || utf8.RuneCountInString(tone) > models.MaxToneLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topic or tone is too long"})
			return
		}

		result, err := h.generator.Generate(c.Request.Context(), topic, tone)
		if errors.Is(err, generation.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			slog.Warn("content generation failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}

		content := &models.Content{
			UserID:     middleware.CurrentUserID(c),
			Topic:      topic,
			Tone:       tone,
			Body:       result.Text,
			TokensUsed: result.TokensUsed,
		}
		if err := h.contents.Create(c.Request.Context(), content); err != nil {
			slog.Error("failed to store generated content", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store content"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":          content.ID,
			"content":     content.Body,
			"tokens_used": content.TokensUsed,
		})
	}
}

// UpdateHandler replaces the text of existing content. The token cost recorded
// at generation is kept.
// POST /api/v1/update_content
func (h *Handlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.ID == "" || strings.TrimSpace(req.Content) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id and content are required"})
			return
		}
		id, err := uuid.Parse(req.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content id"})
			return
		}

		ctx := c.Request.Context()
		content, err := h.contents.GetByID(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load content"})
			return
		}
		if content == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
			return
		}
		if !content.OwnedBy(middleware.CurrentUserID(c)) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Content belongs to another user"})
			return
		}

		updated, err := h.contents.UpdateBody(ctx, id, req.Content)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update content"})
			return
		}
		if !updated {
			c.JSON(http.StatusNotFound, gin.H{"error": "Content not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// ListHandler returns the requesting user's content, newest first
// GET /api/v1/contents
func (h *Handlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		contents, err := h.contents.List(c.Request.Context(), middleware.CurrentUserID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list content"})
			return
		}
		c.JSON(http.StatusOK, contents)
	}
}

// DashboardHandler returns content and scheduled posts in one response
// GET /api/v1/dashboard
func (h *Handlers) DashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := middleware.CurrentUserID(c)

		contents, err := h.contents.List(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list content"})
			return
		}
		posts, err := h.posts.List(ctx, userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list scheduled posts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"contents":        contents,
			"scheduled_posts": posts,
		})
	}
}
