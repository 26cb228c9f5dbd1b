// Package api wires together all HTTP routes for the content scheduler.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated.
//   - /api/v1/auth/register and /login are public and use the strict auth rate limit.
//   - Content, scheduling and checkout routes require a session when
//     auth.require_login is set; otherwise a session is optional and records
//     created anonymously have no owner.
//   - /webhooks/stripe is public; the Stripe-Signature header authenticates it.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/content-scheduler/content-scheduler/internal/api/accounts"
	"github.com/content-scheduler/content-scheduler/internal/api/billing"
	"github.com/content-scheduler/content-scheduler/internal/api/content"
	"github.com/content-scheduler/content-scheduler/internal/api/scheduling"
	"github.com/content-scheduler/content-scheduler/internal/api/webhooks"
	"github.com/content-scheduler/content-scheduler/internal/config"
	"github.com/content-scheduler/content-scheduler/internal/crypto"
	"github.com/content-scheduler/content-scheduler/internal/db/repositories"
	"github.com/content-scheduler/content-scheduler/internal/generation"
	"github.com/content-scheduler/content-scheduler/internal/jobs"
	"github.com/content-scheduler/content-scheduler/internal/middleware"
	"github.com/content-scheduler/content-scheduler/internal/payments"
	"github.com/content-scheduler/content-scheduler/internal/social"
	"github.com/content-scheduler/content-scheduler/internal/social/twitter"
)

// Version is reported by GET /version and set by the server binary
var Version = "dev"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	strategy     jobs.Strategy
	oauthCleanup *jobs.OAuthRequestCleanup
	rateLimiters []middleware.Limiter
	redis        *redis.Client
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.strategy != nil {
		bg.strategy.Shutdown()
	}
	if bg.oauthCleanup != nil {
		bg.oauthCleanup.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// rateLimiters groups the per-route-class limiters. A nil limiter means rate
// limiting is disabled.
type rateLimiters struct {
	auth, general, generate middleware.Limiter
}

func (rl rateLimiters) all() []middleware.Limiter {
	var out []middleware.Limiter
	for _, l := range []middleware.Limiter{rl.auth, rl.general, rl.generate} {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// use returns the middleware for l, or nothing when rate limiting is disabled.
func use(l middleware.Limiter) []gin.HandlerFunc {
	if l == nil {
		return nil
	}
	return []gin.HandlerFunc{middleware.RateLimitMiddleware(l)}
}

func newRateLimiters(cfg *config.Config, rdb *redis.Client) rateLimiters {
	if !cfg.Security.RateLimiting.Enabled {
		return rateLimiters{}
	}
	general := middleware.RateLimitConfigFromSettings(cfg.Security.RateLimiting)
	build := func(name string, c middleware.RateLimitConfig) middleware.Limiter {
		if rdb != nil {
			return middleware.NewRedisRateLimiter(rdb, "ratelimit:"+name, c)
		}
		return middleware.NewRateLimiter(c)
	}
	return rateLimiters{
		auth:     build("auth", middleware.AuthRateLimitConfig()),
		general:  build("general", general),
		generate: build("generate", middleware.GenerateRateLimitConfig()),
	}
}

// NewRouter creates and configures the Gin router and starts the dispatch
// strategy and housekeeping jobs.
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	sqlxDB := sqlx.NewDb(db, "postgres")

	// Sealed social tokens need the AES key before anything can read them
	key, err := crypto.ParseKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		return nil, nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	tokenCipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	userRepo := repositories.NewUserRepository(sqlxDB)
	contentRepo := repositories.NewContentRepository(sqlxDB)
	postRepo := repositories.NewScheduledPostRepository(sqlxDB)
	jobRepo := repositories.NewDispatchJobRepository(sqlxDB)
	oauthRepo := repositories.NewSocialOAuthRequestRepository(sqlxDB)

	// Delivery: platform adapters, then the dispatcher and its strategy
	twitterClient := twitter.New(cfg.Social.Twitter)
	if !cfg.Social.Twitter.Enabled() {
		log.Println("Twitter consumer keys not configured; linking is disabled and posts will fail with missing credentials")
	}
	publishers := social.NewRegistry(twitterClient)
	dispatcher := jobs.NewDispatcher(
		postRepo,
		contentRepo,
		jobs.NewOwnerCredentials(userRepo, tokenCipher),
		publishers,
		cfg.Dispatch,
		cfg.Payments.Enabled,
	)
	strategy, err := jobs.NewStrategy(cfg.Dispatch, dispatcher, postRepo, jobRepo)
	if err != nil {
		return nil, nil, err
	}
	if err := strategy.Start(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s dispatch strategy: %w", strategy.Name(), err)
	}
	log.Printf("Dispatch strategy: %s (payment gated: %v)", strategy.Name(), cfg.Payments.Enabled)

	oauthCleanup := jobs.NewOAuthRequestCleanup(oauthRepo, 0, 0)
	go oauthCleanup.Start(context.Background())

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.Printf("Redis enabled at %s", cfg.Redis.Addr)
	}
	limiters := newRateLimiters(cfg, rdb)

	var checkout payments.CheckoutCreator
	if cfg.Payments.Enabled {
		checkout = payments.NewStripeCheckout(cfg.Payments)
	}

	authHandlers := accounts.NewAuthHandlers(cfg, sqlxDB)
	socialHandlers := accounts.NewSocialHandlers(sqlxDB, twitterClient, tokenCipher)
	contentHandlers := content.NewHandlers(sqlxDB, generation.NewOpenAIGenerator(cfg.Generation))
	schedulingHandlers := scheduling.NewHandlers(sqlxDB, strategy, dispatcher.ExpectedStatus(), cfg.Dispatch.ScheduleSkew)
	checkoutHandlers := billing.NewCheckoutHandlers(sqlxDB, checkout)
	stripeWebhook := webhooks.NewStripeWebhookHandler(sqlxDB, payments.NewWebhookVerifier(cfg.Payments.WebhookSecret), strategy)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(cfg.Security.TLS))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	sessionAuth := middleware.AuthMiddleware(userRepo)
	appAuth := middleware.OptionalAuthMiddleware(userRepo)
	if cfg.Auth.RequireLogin {
		appAuth = sessionAuth
	}

	apiV1 := router.Group("/api/v1")
	{
		// Public authentication endpoints (no auth required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(use(limiters.auth)...)
		{
			authGroup.POST("/register", authHandlers.RegisterHandler())
			authGroup.POST("/login", authHandlers.LoginHandler())
		}

		// The platform redirects the browser here without a session
		apiV1.GET("/social/twitter/callback", append(use(limiters.auth), socialHandlers.CallbackHandler())...)

		// Authenticated-only endpoints
		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(sessionAuth)
		authenticatedGroup.Use(use(limiters.general)...)
		{
			authenticatedGroup.GET("/auth/me", authHandlers.MeHandler())
			authenticatedGroup.GET("/social/twitter/connect", socialHandlers.ConnectHandler())
			authenticatedGroup.DELETE("/social/twitter", socialHandlers.UnlinkHandler())
		}

		appGroup := apiV1.Group("")
		appGroup.Use(appAuth)
		appGroup.Use(use(limiters.general)...)
		{
			appGroup.POST("/generate_content", append(use(limiters.generate), contentHandlers.GenerateHandler())...)
			appGroup.POST("/update_content", contentHandlers.UpdateHandler())
			appGroup.GET("/contents", contentHandlers.ListHandler())
			appGroup.GET("/dashboard", contentHandlers.DashboardHandler())

			appGroup.POST("/schedule_post", schedulingHandlers.ScheduleHandler())
			appGroup.GET("/get_scheduled_posts", schedulingHandlers.ListHandler())
			appGroup.PUT("/scheduled_posts/:id", schedulingHandlers.RescheduleHandler())
			appGroup.POST("/scheduled_posts/:id/cancel", schedulingHandlers.CancelHandler())

			appGroup.POST("/create_checkout_session", checkoutHandlers.CreateSessionHandler())
		}
	}

	// Webhook endpoints (public, authentication via signature validation)
	stripeGroup := router.Group("/webhooks/stripe")
	{
		stripeGroup.POST("", stripeWebhook.HandleWebhook)
	}

	bg := &BackgroundServices{
		strategy:     strategy,
		oauthCleanup: oauthCleanup,
		rateLimiters: limiters.all(),
		redis:        rdb,
	}

	return router, bg, nil
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Redis is
// checked only when it is configured, since rate limits depend on it.
func readinessHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", redactQuery(query)),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if userID := middleware.CurrentUserID(c); userID != nil {
		attrs = append(attrs, slog.String("user_id", userID.String()))
	}
	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// redactQuery masks OAuth1 callback parameters so they never reach the logs.
func redactQuery(query string) string {
	if query == "" || !strings.Contains(query, "oauth_") {
		return query
	}
	parts := strings.Split(query, "&")
	for i, p := range parts {
		if name, _, ok := strings.Cut(p, "="); ok && strings.HasPrefix(name, "oauth_") {
			parts[i] = name + "=REDACTED"
		}
	}
	return strings.Join(parts, "&")
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
