// Package users implements the HTTP handlers for profile management, avatar
// upload, and user administration.
package users

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/db/repositories"
	"github.com/accountd/accountd/internal/middleware"
	"github.com/accountd/accountd/internal/storage"
	"github.com/accountd/accountd/internal/telemetry"
)

// maxAvatarSize caps avatar uploads at 5 MiB.
const maxAvatarSize = 5 << 20

// avatarURLTTL is how long generated avatar URLs stay valid on backends that
// sign them (S3). Local URLs do not expire.
const avatarURLTTL = 7 * 24 * time.Hour

// allowedAvatarTypes maps sniffed content types to file extensions. The
// client-supplied filename and Content-Type header are not trusted.
var allowedAvatarTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Handlers holds the dependencies for the user endpoints.
type Handlers struct {
	cfg      *config.Config
	userRepo *repositories.UserRepository
	store    storage.Storage
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *config.Config, db *sql.DB, store storage.Storage) *Handlers {
	return &Handlers{
		cfg:      cfg,
		userRepo: repositories.NewUserRepository(db),
		store:    store,
	}
}

type updateProfileRequest struct {
	Name  string `json:"name" binding:"omitempty,min=2,max=100"`
	Email string `json:"email" binding:"omitempty,email"`
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// currentUser loads the authenticated user set by the auth middleware.
func (h *Handlers) currentUser(c *gin.Context) *models.User {
	userVal, exists := c.Get(middleware.CtxUser)
	if !exists {
		return nil
	}
	user, _ := userVal.(*models.User)
	return user
}

// @Summary      Get own profile
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "The authenticated user"
// @Failure      401  {object}  map[string]interface{}  "Not authenticated"
// @Router       /api/users/profile [get]
// GetProfileHandler returns the authenticated user's profile
// GET /api/users/profile
func (h *Handlers) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := h.currentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authenticated"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"user":    user.Public(),
		})
	}
}

// @Summary      Update own profile
// @Description  Change name and/or email. Email changes are rejected when the address is taken.
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  updateProfileRequest  true  "Fields to change"
// @Success      200  {object}  map[string]interface{}  "The updated user"
// @Failure      400  {object}  map[string]interface{}  "Validation failure or email in use"
// @Router       /api/users/profile [put]
// UpdateProfileHandler updates the authenticated user's name and email
// PUT /api/users/profile
func (h *Handlers) UpdateProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := h.currentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authenticated"})
			return
		}

		var req updateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid profile fields"})
			return
		}
		if req.Name == "" && req.Email == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Nothing to update"})
			return
		}

		if req.Email != "" && req.Email != user.Email {
			existing, err := h.userRepo.GetUserByEmail(c.Request.Context(), req.Email)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update profile"})
				return
			}
			if existing != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "An account with that email already exists"})
				return
			}
			user.Email = req.Email
		}
		if req.Name != "" {
			user.Name = req.Name
		}

		if err := h.userRepo.UpdateUser(c.Request.Context(), user); err != nil {
			slog.Error("profile update failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update profile"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Profile updated",
			"user":    user.Public(),
		})
	}
}

// @Summary      Upload an avatar
// @Description  Accepts a multipart "avatar" image up to 5 MiB (jpeg/png/gif/webp, verified by content sniffing) and stores it via the configured backend
// @Tags         Users
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        avatar  formData  file  true  "Image file"
// @Success      200  {object}  map[string]interface{}  "New avatar URL"
// @Failure      400  {object}  map[string]interface{}  "Missing file, too large, or unsupported type"
// @Router       /api/users/upload-avatar [post]
// UploadAvatarHandler stores a new avatar image for the authenticated user
// POST /api/users/upload-avatar
func (h *Handlers) UploadAvatarHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := h.currentUser(c)
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authenticated"})
			return
		}

		fileHeader, err := c.FormFile("avatar")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "An avatar file is required"})
			return
		}
		if fileHeader.Size > maxAvatarSize {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Avatar must be 5MB or smaller"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read upload"})
			return
		}
		defer file.Close()

		// Sniff the real content type from the first bytes; the multipart
		// header is client-controlled.
		head := make([]byte, 512)
		n, err := file.Read(head)
		if err != nil && n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Failed to read upload"})
			return
		}
		contentType := http.DetectContentType(head[:n])
		ext, ok := allowedAvatarTypes[contentType]
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Avatar must be a jpeg, png, gif, or webp image",
			})
			return
		}

		if _, err := file.Seek(0, 0); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to read upload"})
			return
		}

		objectPath := path.Join("avatars", uuid.New().String()+ext)
		if _, err := h.store.Upload(c.Request.Context(), objectPath, file, fileHeader.Size, contentType); err != nil {
			slog.Error("avatar upload failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to store avatar"})
			return
		}

		avatarURL, err := h.store.GetURL(c.Request.Context(), objectPath, avatarURLTTL)
		if err != nil {
			slog.Error("avatar url generation failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to store avatar"})
			return
		}

		if err := h.userRepo.UpdateAvatarURL(c.Request.Context(), user.ID, avatarURL); err != nil {
			slog.Error("avatar url update failed", "user_id", user.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to store avatar"})
			return
		}

		telemetry.AvatarUploadsTotal.WithLabelValues(h.cfg.Storage.DefaultBackend).Inc()

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Avatar uploaded",
			"avatar":  avatarURL,
		})
	}
}

// @Summary      List users
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        page   query  int  false  "Page number (default 1)"
// @Param        limit  query  int  false  "Page size (default 20, max 100)"
// @Success      200  {object}  map[string]interface{}  "Users with pagination info"
// @Failure      403  {object}  map[string]interface{}  "Admin role required"
// @Router       /api/users [get]
// ListUsersHandler returns a paginated list of all users (admin only)
// GET /api/users
func (h *Handlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > 100 {
			limit = 20
		}

		userRows, total, err := h.userRepo.ListUsers(c.Request.Context(), limit, (page-1)*limit)
		if err != nil {
			slog.Error("user list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to list users"})
			return
		}

		publicUsers := make([]*models.PublicUser, 0, len(userRows))
		for _, u := range userRows {
			pu := u.Public()
			publicUsers = append(publicUsers, &pu)
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(publicUsers),
			"total":   total,
			"pages":   int(math.Ceil(float64(total) / float64(limit))),
			"page":    page,
			"users":   publicUsers,
		})
	}
}

// @Summary      Get a user
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "The user"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id} [get]
// GetUserHandler returns one user by ID (admin only)
// GET /api/users/:id
func (h *Handlers) GetUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.userRepo.GetUserByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to get user"})
			return
		}
		if user == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"user":    user.Public(),
		})
	}
}

// @Summary      Delete a user
// @Description  Admins may delete any account; users may delete their own.
// @Tags         Users
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "User ID"
// @Success      200  {object}  map[string]interface{}  "Deleted"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id} [delete]
// DeleteUserHandler removes a user account
// DELETE /api/users/:id
func (h *Handlers) DeleteUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		target, err := h.userRepo.GetUserByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to delete user"})
			return
		}
		if target == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
			return
		}

		if err := h.userRepo.DeleteUser(c.Request.Context(), userID); err != nil {
			slog.Error("user delete failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to delete user"})
			return
		}

		c.Set(middleware.CtxActivityDescription, fmt.Sprintf("Deleted user %s", target.Email))
		c.Set(middleware.CtxActivityMetadata, map[string]interface{}{
			"deletedUserId": target.ID,
		})

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "User deleted",
		})
	}
}

// @Summary      Change a user's role
// @Tags         Users
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string             true  "User ID"
// @Param        body  body  updateRoleRequest  true  "New role: user, moderator, or admin"
// @Success      200  {object}  map[string]interface{}  "The updated user"
// @Failure      400  {object}  map[string]interface{}  "Unknown role or own-role change"
// @Failure      404  {object}  map[string]interface{}  "User not found"
// @Router       /api/users/{id}/role [put]
// UpdateRoleHandler sets a user's role (admin only). Mounted at both
// PUT /api/users/:id/role and PUT /api/users/manage/:id/role.
func (h *Handlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Role is required"})
			return
		}
		if !models.ValidRole(req.Role) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "Role must be one of: user, moderator, admin",
			})
			return
		}

		targetID := c.Param("id")

		// Admins cannot change their own role; demoting yourself could leave
		// the deployment with no admin at all.
		if targetID == c.GetString(middleware.CtxUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "You cannot change your own role"})
			return
		}

		target, err := h.userRepo.GetUserByID(c.Request.Context(), targetID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update role"})
			return
		}
		if target == nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
			return
		}

		previousRole := target.Role
		if err := h.userRepo.UpdateRole(c.Request.Context(), targetID, req.Role); err != nil {
			slog.Error("role update failed", "user_id", targetID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update role"})
			return
		}
		target.Role = req.Role

		c.Set(middleware.CtxActivityDescription, fmt.Sprintf("Changed role of %s from %s to %s", target.Email, previousRole, req.Role))
		c.Set(middleware.CtxActivityMetadata, map[string]interface{}{
			"targetUserId": target.ID,
			"previousRole": previousRole,
			"newRole":      req.Role,
		})

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Role updated",
			"user":    target.Public(),
		})
	}
}
