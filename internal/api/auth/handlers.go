// Package auth implements the HTTP handlers for signup, login, token refresh,
// logout, and the password-reset flow.
package auth

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/accountd/accountd/internal/activity"
	"github.com/accountd/accountd/internal/auth"
	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/db/repositories"
	"github.com/accountd/accountd/internal/mail"
	"github.com/accountd/accountd/internal/telemetry"
)

// Handlers holds the dependencies for the authentication endpoints.
type Handlers struct {
	cfg         *config.Config
	userRepo    *repositories.UserRepository
	refreshRepo *repositories.RefreshTokenRepository
	recorder    *activity.Recorder
	mailer      *mail.Mailer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *config.Config, db *sql.DB, recorder *activity.Recorder, mailer *mail.Mailer) *Handlers {
	return &Handlers{
		cfg:         cfg,
		userRepo:    repositories.NewUserRepository(db),
		refreshRepo: repositories.NewRefreshTokenRepository(db),
		recorder:    recorder,
		mailer:      mailer,
	}
}

type signupRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// issueTokens generates an access JWT and a persisted, rotatable refresh token
// for the user. The refresh JWT itself is the stored token value; the row keeps
// the rotation trail.
func (h *Handlers) issueTokens(c *gin.Context, user *models.User) (accessToken, refreshToken string, err error) {
	accessToken, err = auth.GenerateJWT(user.ID, user.Email, user.Role, h.cfg.Auth.AccessTokenTTL)
	if err != nil {
		return "", "", err
	}

	tokenID := uuid.New().String()
	refreshToken, err = auth.GenerateRefreshJWT(user.ID, tokenID, h.cfg.Auth.RefreshTokenTTL)
	if err != nil {
		return "", "", err
	}

	err = h.refreshRepo.Create(c.Request.Context(), &models.RefreshToken{
		ID:          tokenID,
		Token:       refreshToken,
		UserID:      user.ID,
		ExpiresAt:   time.Now().Add(h.cfg.Auth.RefreshTokenTTL),
		CreatedByIP: c.ClientIP(),
	})
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

// @Summary      Register a new account
// @Description  Create a user account with the default role and return an access token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  signupRequest  true  "Name, email, and password"
// @Success      201  {object}  map[string]interface{}  "Access token and the created user"
// @Failure      400  {object}  map[string]interface{}  "Validation failure or email already registered"
// @Router       /api/auth/signup [post]
// SignupHandler registers a new user account
// POST /api/auth/signup
func (h *Handlers) SignupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Name, email, and a password of at least 8 characters are required",
			})
			return
		}

		existing, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create account"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "An account with that email already exists",
			})
			return
		}

		hash, err := auth.HashPassword(req.Password, h.cfg.Auth.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create account"})
			return
		}

		user := &models.User{
			Name:         req.Name,
			Email:        req.Email,
			PasswordHash: hash,
			Role:         models.RoleUser,
		}
		if err := h.userRepo.CreateUser(c.Request.Context(), user); err != nil {
			slog.Error("signup: create user failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create account"})
			return
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, user.Role, h.cfg.Auth.AccessTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create account"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"token":   token,
			"user":    user.Public(),
		})
	}
}

// @Summary      Log in
// @Description  Verify credentials and return an access token, a refresh token, and the user
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  loginRequest  true  "Email and password"
// @Success      200  {object}  map[string]interface{}  "Access token, refresh token, and user"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Router       /api/auth/login [post]
// LoginHandler authenticates a user
// POST /api/auth/login
func (h *Handlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Email and password are required",
			})
			return
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			slog.Error("login: user lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Login failed"})
			return
		}

		// Same response for unknown email and wrong password so the endpoint
		// does not reveal which accounts exist.
		if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
			h.recordFailedLogin(c, req.Email, user)
			telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid credentials",
			})
			return
		}

		accessToken, refreshToken, err := h.issueTokens(c, user)
		if err != nil {
			slog.Error("login: token issue failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Login failed"})
			return
		}

		telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()
		c.Set("user_id", user.ID)

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"token":        accessToken,
			"refreshToken": refreshToken,
			"user":         user.Public(),
		})
	}
}

// recordFailedLogin writes the failed_login audit entry carrying the attempted
// email. The security-alert aggregation groups on metadata.email, so this entry
// must come from the handler rather than the generic activity middleware.
func (h *Handlers) recordFailedLogin(c *gin.Context, email string, user *models.User) {
	reason := "invalid_password"
	if user == nil {
		reason = "unknown_email"
	}

	entry := &models.ActivityLog{
		Action:      models.ActionFailedLogin,
		Description: "Failed login attempt",
		IPAddress:   c.ClientIP(),
		Success:     false,
		Metadata: map[string]interface{}{
			"email":  email,
			"reason": reason,
		},
	}
	if userAgent := c.Request.UserAgent(); userAgent != "" {
		entry.UserAgent = &userAgent
	}
	if user != nil {
		entry.UserID = &user.ID
	}

	h.recorder.Submit(entry)
}

// @Summary      Refresh tokens
// @Description  Rotate a refresh token: revoke the presented one and return a new access/refresh pair
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  refreshRequest  true  "Refresh token"
// @Success      200  {object}  map[string]interface{}  "New access and refresh tokens"
// @Failure      401  {object}  map[string]interface{}  "Invalid, expired, or revoked refresh token"
// @Router       /api/auth/refresh [post]
// RefreshHandler rotates a refresh token
// POST /api/auth/refresh
func (h *Handlers) RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Refresh token is required",
			})
			return
		}

		reject := func() {
			telemetry.TokenRefreshesTotal.WithLabelValues("failure").Inc()
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid refresh token",
			})
		}

		if _, err := auth.ValidateRefreshJWT(req.RefreshToken); err != nil {
			reject()
			return
		}

		// A cryptographically valid JWT is not enough: the stored row must
		// still be active. Rotation revokes rows, so a reused old token is
		// rejected here.
		stored, err := h.refreshRepo.GetByToken(c.Request.Context(), req.RefreshToken)
		if err != nil {
			slog.Error("refresh: token lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Token refresh failed"})
			return
		}
		if stored == nil || !stored.Active() {
			reject()
			return
		}

		user, err := h.userRepo.GetUserByID(c.Request.Context(), stored.UserID)
		if err != nil || user == nil {
			reject()
			return
		}

		accessToken, refreshToken, err := h.issueTokens(c, user)
		if err != nil {
			slog.Error("refresh: token issue failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Token refresh failed"})
			return
		}

		if err := h.refreshRepo.Revoke(c.Request.Context(), stored.ID, c.ClientIP(), &refreshToken); err != nil {
			slog.Error("refresh: revoke of rotated token failed", "token_id", stored.ID, "error", err)
		}

		telemetry.TokenRefreshesTotal.WithLabelValues("success").Inc()
		c.Set("user_id", user.ID)

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"token":        accessToken,
			"refreshToken": refreshToken,
		})
	}
}

// @Summary      Log out
// @Description  Revoke the presented refresh token if it exists; always succeeds
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  logoutRequest  false  "Refresh token to revoke"
// @Success      200  {object}  map[string]interface{}  "Logged out"
// @Router       /api/auth/logout [post]
// LogoutHandler revokes a refresh token
// POST /api/auth/logout
func (h *Handlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req logoutRequest
		_ = c.ShouldBindJSON(&req)

		if req.RefreshToken != "" {
			stored, err := h.refreshRepo.GetByToken(c.Request.Context(), req.RefreshToken)
			if err != nil {
				slog.Error("logout: token lookup failed", "error", err)
			} else if stored != nil && !stored.Revoked() {
				if err := h.refreshRepo.Revoke(c.Request.Context(), stored.ID, c.ClientIP(), nil); err != nil {
					slog.Error("logout: revoke failed", "token_id", stored.ID, "error", err)
				}
			}
		}

		// Idempotent: an unknown or already-revoked token still logs out.
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Logged out successfully",
		})
	}
}

// genericResetMessage is returned for every forgot-password request so the
// endpoint cannot be used to probe which emails have accounts.
const genericResetMessage = "If an account with that email exists, a password reset link has been sent"

// @Summary      Request a password reset
// @Description  Email a reset link when the account exists. The response is identical whether or not it does.
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        body  body  forgotPasswordRequest  true  "Account email"
// @Success      200  {object}  map[string]interface{}  "Generic acknowledgement"
// @Router       /api/auth/forgot-password [post]
// ForgotPasswordHandler starts the password-reset flow
// POST /api/auth/forgot-password
func (h *Handlers) ForgotPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "A valid email is required",
			})
			return
		}

		respond := func() {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": genericResetMessage,
			})
		}

		user, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			slog.Error("forgot-password: user lookup failed", "error", err)
			respond()
			return
		}
		if user == nil {
			respond()
			return
		}

		// An unexpired outstanding token suppresses re-sending, but the
		// response stays generic so the cooldown is not observable.
		if user.ResetPasswordToken != nil && user.ResetPasswordExpires != nil &&
			user.ResetPasswordExpires.After(time.Now()) {
			respond()
			return
		}

		raw, hashed, err := auth.GenerateResetToken()
		if err != nil {
			slog.Error("forgot-password: token generation failed", "error", err)
			respond()
			return
		}

		if err := h.userRepo.SetResetToken(c.Request.Context(), user.ID, hashed, time.Now().Add(h.cfg.Auth.ResetTokenTTL)); err != nil {
			slog.Error("forgot-password: set reset token failed", "user_id", user.ID, "error", err)
			respond()
			return
		}

		if err := h.mailer.SendPasswordReset(user.Email, user.Name, raw, h.cfg.Auth.ResetTokenTTL); err != nil {
			// The stored token is useless if the email never went out; clear
			// it so the user is not locked into the cooldown.
			slog.Error("forgot-password: send email failed", "user_id", user.ID, "error", err)
			if clearErr := h.userRepo.ClearResetToken(c.Request.Context(), user.ID); clearErr != nil {
				slog.Error("forgot-password: clear reset token failed", "user_id", user.ID, "error", clearErr)
			}
		}

		respond()
	}
}

// @Summary      Reset a password
// @Description  Set a new password using the emailed reset token, then return a fresh access token
// @Tags         Authentication
// @Accept       json
// @Produce      json
// @Param        resetToken  path  string                true  "Raw reset token from the email"
// @Param        body        body  resetPasswordRequest  true  "New password"
// @Success      200  {object}  map[string]interface{}  "Password changed; fresh access token"
// @Failure      400  {object}  map[string]interface{}  "Invalid or expired reset token"
// @Router       /api/auth/reset-password/{resetToken} [put]
// ResetPasswordHandler completes the password-reset flow
// PUT /api/auth/reset-password/:resetToken
func (h *Handlers) ResetPasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "A password of at least 8 characters is required",
			})
			return
		}

		tokenHash := auth.HashResetToken(c.Param("resetToken"))
		user, err := h.userRepo.GetUserByResetToken(c.Request.Context(), tokenHash)
		if err != nil {
			slog.Error("reset-password: token lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Password reset failed"})
			return
		}
		if user == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Invalid or expired reset token",
			})
			return
		}

		hash, err := auth.HashPassword(req.Password, h.cfg.Auth.BcryptCost)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Password reset failed"})
			return
		}

		// UpdatePassword clears the reset token columns in the same statement,
		// so the token is single-use.
		if err := h.userRepo.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
			slog.Error("reset-password: update failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Password reset failed"})
			return
		}

		// Existing sessions were established with the old password; cut them off.
		if err := h.refreshRepo.RevokeAllForUser(c.Request.Context(), user.ID, c.ClientIP()); err != nil {
			slog.Error("reset-password: revoke sessions failed", "user_id", user.ID, "error", err)
		}

		token, err := auth.GenerateJWT(user.ID, user.Email, user.Role, h.cfg.Auth.AccessTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Password reset failed"})
			return
		}

		c.Set("user_id", user.ID)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Password reset successful",
			"token":   token,
		})
	}
}
