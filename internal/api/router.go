// Package api wires together all HTTP routes for accountd.
//
// Route grouping philosophy:
//   - /api/auth/ endpoints are public but carry the heaviest rate limiting:
//     the auth class on the group, the login class plus the brute-force guard
//     on the login route, and the password-reset class on forgot-password.
//   - /api/users/ and /api/logs/ always require authentication; role checks
//     (moderator for log reads, admin for administration) sit on top.
//   - Every guarded route records an activity log entry after the handler runs.
//
// Middleware order is fixed: SecurityHeaders -> RequestID -> Logger -> Metrics
// -> CORS globally, then per-group RateLimit -> Auth -> RBAC -> Activity.
package api

import (
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/activity"
	authapi "github.com/accountd/accountd/internal/api/auth"
	"github.com/accountd/accountd/internal/api/logs"
	"github.com/accountd/accountd/internal/api/users"
	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/db/repositories"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/middleware"
	"github.com/accountd/accountd/internal/ratelimit"
	"github.com/accountd/accountd/internal/security"
	"github.com/accountd/accountd/internal/storage"
	localstorage "github.com/accountd/accountd/internal/storage/local"

	// Import storage backends to register them
	_ "github.com/accountd/accountd/internal/storage/s3"
)

// serviceVersion is reported by /health and the version subcommand.
const serviceVersion = "0.1.0"

// BackgroundServices holds resources that must be stopped during graceful
// shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// when the process receives a termination signal.
type BackgroundServices struct {
	rateLimitStore ratelimit.Store
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.rateLimitStore != nil {
		bg.rateLimitStore.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize storage backend
	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	// Repositories and the fire-and-forget activity recorder
	userRepo := repositories.NewUserRepository(db)
	logRepo := repositories.NewActivityLogRepository(db)
	recorder := activity.NewRecorder(logRepo)

	mailer := mail.NewMailer(&cfg.Notifications, cfg.Server.GetPublicURL())

	// Rate limiting: one counter store shared by all classes
	rlStore := ratelimit.NewStoreFromConfig(&cfg.RateLimit)
	policies := ratelimit.PoliciesFromConfig(&cfg.RateLimit)

	// limit returns the middleware for a class, or a no-op when rate limiting
	// is disabled (useful in tests and local development).
	limit := func(class ratelimit.Class) gin.HandlerFunc {
		if !cfg.RateLimit.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(rlStore, class, recorder)
	}

	// Brute-force guard over persisted failed-login history
	guard := security.NewGuard(logRepo, recorder, cfg.Security.BruteForce)

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.MetricsMiddleware())
	router.Use(CORSMiddleware(cfg))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Handlers
	authHandlers := authapi.NewHandlers(cfg, db, recorder, mailer)
	userHandlers := users.NewHandlers(cfg, db, storageBackend)
	logHandlers := logs.NewHandlers(db)

	api := router.Group("/api")
	api.Use(limit(policies.General))
	{
		// Public authentication endpoints
		authGroup := api.Group("/auth")
		authGroup.Use(limit(policies.Auth))
		{
			authGroup.POST("/signup",
				middleware.ActivityMiddleware(recorder, models.ActionSignup),
				authHandlers.SignupHandler())

			// The login limiter runs before the guard so a flood is cut off by
			// the cheap in-store counter before the database-backed check.
			authGroup.POST("/login",
				limit(policies.Login),
				middleware.BruteForceMiddleware(guard),
				middleware.ActivityMiddleware(recorder, models.ActionLogin),
				authHandlers.LoginHandler())

			authGroup.POST("/refresh",
				middleware.ActivityMiddleware(recorder, models.ActionTokenRefresh),
				authHandlers.RefreshHandler())

			authGroup.POST("/logout",
				middleware.ActivityMiddleware(recorder, models.ActionLogout),
				authHandlers.LogoutHandler())

			authGroup.POST("/forgot-password",
				limit(policies.PasswordReset),
				middleware.ActivityMiddleware(recorder, models.ActionForgotPassword),
				authHandlers.ForgotPasswordHandler())

			authGroup.PUT("/reset-password/:resetToken",
				middleware.ActivityMiddleware(recorder, models.ActionResetPassword),
				authHandlers.ResetPasswordHandler())
		}

		// Authenticated user endpoints
		usersGroup := api.Group("/users")
		usersGroup.Use(middleware.AuthMiddleware(userRepo))
		{
			usersGroup.GET("/profile",
				middleware.ActivityMiddleware(recorder, models.ActionAccountAccess),
				userHandlers.GetProfileHandler())
			usersGroup.PUT("/profile",
				middleware.ActivityMiddleware(recorder, models.ActionProfileUpdate),
				userHandlers.UpdateProfileHandler())
			usersGroup.POST("/upload-avatar",
				limit(policies.Upload),
				middleware.ActivityMiddleware(recorder, models.ActionAvatarUpload),
				userHandlers.UploadAvatarHandler())

			// Administration
			usersGroup.GET("",
				middleware.RequireRole(models.RoleAdmin),
				middleware.ActivityMiddleware(recorder, models.ActionAccountAccess),
				userHandlers.ListUsersHandler())
			usersGroup.GET("/:id",
				middleware.RequireRole(models.RoleAdmin),
				middleware.ActivityMiddleware(recorder, models.ActionAccountAccess),
				userHandlers.GetUserHandler())
			usersGroup.DELETE("/:id",
				middleware.RequireSelfOrMinRole("id", models.RoleAdmin),
				middleware.ActivityMiddleware(recorder, models.ActionUserDelete),
				userHandlers.DeleteUserHandler())

			// Same handler on both mounts; the manage prefix is kept for
			// clients that use the older route shape.
			usersGroup.PUT("/:id/role",
				middleware.RequireRole(models.RoleAdmin),
				middleware.ActivityMiddleware(recorder, models.ActionRoleChange),
				userHandlers.UpdateRoleHandler())
			usersGroup.PUT("/manage/:id/role",
				middleware.RequireRole(models.RoleAdmin),
				middleware.ActivityMiddleware(recorder, models.ActionRoleChange),
				userHandlers.UpdateRoleHandler())
		}

		// Activity log endpoints (moderator and above, except per-user history
		// which allows self-access; the handler enforces that split)
		logsGroup := api.Group("/logs")
		logsGroup.Use(middleware.AuthMiddleware(userRepo))
		logsGroup.Use(limit(policies.API))
		{
			logsGroup.GET("",
				middleware.RequireMinRole(models.RoleModerator),
				logHandlers.ListLogsHandler())
			logsGroup.GET("/user/:userId",
				logHandlers.UserLogsHandler())
			logsGroup.GET("/stats",
				middleware.RequireMinRole(models.RoleModerator),
				logHandlers.StatsHandler())
			logsGroup.GET("/security-alerts",
				middleware.RequireMinRole(models.RoleModerator),
				logHandlers.SecurityAlertsHandler())
			logsGroup.DELETE("/cleanup",
				middleware.RequireRole(models.RoleAdmin),
				logHandlers.CleanupHandler())
		}
	}

	// File serving for the local storage backend with ServeDirectly enabled
	if ls, ok := storageBackend.(*localstorage.LocalStorage); ok && ls.ServeDirectly() {
		router.GET("/api/files/*filepath", serveLocalFileHandler(ls))
	}

	bg := &BackgroundServices{
		rateLimitStore: rlStore,
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": "accountd",
				"error":   "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "accountd",
			"version": serviceVersion,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// serveLocalFileHandler serves stored files from the local backend's base
// directory. Paths are cleaned and verified against the base so a crafted
// request cannot escape it.
func serveLocalFileHandler(ls *localstorage.LocalStorage) gin.HandlerFunc {
	base := ls.BasePath()
	return func(c *gin.Context) {
		rel := strings.TrimPrefix(c.Param("filepath"), "/")
		full := filepath.Join(base, filepath.FromSlash(rel))

		cleanBase, err := filepath.Abs(base)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to serve file"})
			return
		}
		cleanFull, err := filepath.Abs(full)
		if err != nil || !strings.HasPrefix(cleanFull, cleanBase+string(filepath.Separator)) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "File not found"})
			return
		}

		c.File(cleanFull)
	}
}

// LoggerMiddleware provides structured request logging through slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString(middleware.RequestIDKey)

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
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
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
