package accounts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/content-scheduler/content-scheduler/internal/crypto"
	"github.com/content-scheduler/content-scheduler/internal/db/models"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
	"github.com/content-scheduler/content-scheduler/internal/social"
)

// SocialHandlers links a user to a social account through OAuth1. The request
// secret is sealed while it waits in the database for the callback.
type SocialHandlers struct {
	linker   social.Linker
	cipher   *crypto.TokenCipher
	userRepo *repositories.UserRepository
	requests *repositories.SocialOAuthRequestRepository
}

// NewSocialHandlers creates a new SocialHandlers instance
func NewSocialHandlers(db *sqlx.DB, linker social.Linker, cipher *crypto.TokenCipher) *SocialHandlers {
	return &SocialHandlers{
		linker:   linker,
		cipher:   cipher,
		userRepo: repositories.NewUserRepository(db),
		requests: repositories.NewSocialOAuthRequestRepository(db),
	}
}

// @Summary      Connect social account
// @Description  Start the OAuth1 handshake and return the platform authorization URL.
// @Tags         Social
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "authorization_url"
// @Failure      401  {object}  map[string]interface{}  "Not authenticated"
// @Failure      502  {object}  map[string]interface{}  "Platform request failed"
// @Failure      503  {object}  map[string]interface{}  "Platform not configured"
// @Router       /api/v1/social/twitter/connect [get]
// ConnectHandler starts the account link
// GET /api/v1/social/twitter/connect
func (h *SocialHandlers) ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.CurrentUserID(c)
		if userID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		authReq, err := h.linker.BeginAuthorization(c.Request.Context())
		if errors.Is(err, social.ErrMissingCredentials) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Social platform is not configured"})
			return
		}
		if err != nil {
			slog.Error("failed to begin social authorization", "platform", h.linker.Platform(), "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to contact social platform"})
			return
		}

		sealed, err := h.cipher.Seal(authReq.RequestSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store authorization request"})
			return
		}
		pending := &models.SocialOAuthRequest{
			RequestToken:  authReq.RequestToken,
			RequestSecret: sealed,
			UserID:        *userID,
			Platform:      h.linker.Platform(),
		}
		if err := h.requests.Create(c.Request.Context(), pending); err != nil {
			slog.Error("failed to store oauth request", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store authorization request"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"authorization_url": authReq.AuthorizationURL})
	}
}

// CallbackHandler completes the account link. The platform redirects the
// browser here, so the user is identified by the stored request token rather
// than a session.
// GET /api/v1/social/twitter/callback
func (h *SocialHandlers) CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Query("denied") != "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Authorization was denied"})
			return
		}
		token := c.Query("oauth_token")
		verifier := c.Query("oauth_verifier")
		if token == "" || verifier == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "oauth_token and oauth_verifier are required"})
			return
		}

		ctx := c.Request.Context()
		pending, err := h.requests.Consume(ctx, token)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load authorization request"})
			return
		}
		if pending == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown or expired authorization request"})
			return
		}

		requestSecret, err := h.cipher.Open(pending.RequestSecret)
		if err != nil {
			slog.Error("failed to open oauth request secret", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load authorization request"})
			return
		}

		account, err := h.linker.CompleteAuthorization(ctx, token, requestSecret, verifier)
		if err != nil {
			slog.Error("failed to complete social authorization", "platform", pending.Platform, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to complete authorization"})
			return
		}

		sealedToken, sealedSecret, err := h.cipher.SealPair(account.Credentials.Token, account.Credentials.Secret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store credentials"})
			return
		}
		if err := h.userRepo.SetSocialCredentials(ctx, pending.UserID, sealedToken, sealedSecret, account.ScreenName); err != nil {
			slog.Error("failed to store social credentials", "user_id", pending.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store credentials"})
			return
		}

		slog.Info("social account linked", "user_id", pending.UserID, "platform", pending.Platform)
		c.JSON(http.StatusOK, gin.H{"success": true, "screen_name": account.ScreenName})
	}
}

// UnlinkHandler removes the stored token pair
// DELETE /api/v1/social/twitter
func (h *SocialHandlers) UnlinkHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.CurrentUserID(c)
		if userID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		if err := h.userRepo.ClearSocialCredentials(c.Request.Context(), *userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to unlink account"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
