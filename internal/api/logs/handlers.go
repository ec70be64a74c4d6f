// Package logs implements the HTTP handlers for the activity log: filtered
// listings, per-user history, statistics, security alerts, and retention
// cleanup.
package logs

import (
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/db/repositories"
	"github.com/accountd/accountd/internal/middleware"
)

// Handlers holds the dependencies for the log endpoints.
type Handlers struct {
	logRepo *repositories.ActivityLogRepository
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB) *Handlers {
	return &Handlers{
		logRepo: repositories.NewActivityLogRepository(db),
	}
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

// @Summary      List activity logs
// @Description  Filtered, paginated view of the activity log. Each row carries the acting user when known.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        action     query  string  false  "Filter by action"
// @Param        success    query  bool    false  "Filter by outcome"
// @Param        userId     query  string  false  "Filter by acting user ID"
// @Param        ipAddress  query  string  false  "Filter by client IP"
// @Param        startDate  query  string  false  "RFC 3339 timestamp or YYYY-MM-DD"
// @Param        endDate    query  string  false  "RFC 3339 timestamp or YYYY-MM-DD"
// @Param        page       query  int     false  "Page number (default 1)"
// @Param        limit      query  int     false  "Page size (default 50, max 100)"
// @Success      200  {object}  map[string]interface{}  "Log entries with pagination info"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter value"
// @Router       /api/logs [get]
// ListLogsHandler returns a filtered page of the activity log (moderator+)
// GET /api/logs
func (h *Handlers) ListLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters repositories.ActivityLogFilters

		if action := c.Query("action"); action != "" {
			if !models.ValidAction(action) {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unknown action filter"})
				return
			}
			filters.Action = &action
		}
		if successStr := c.Query("success"); successStr != "" {
			success, err := strconv.ParseBool(successStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "success filter must be true or false"})
				return
			}
			filters.Success = &success
		}
		if userID := c.Query("userId"); userID != "" {
			filters.UserID = &userID
		}
		if ip := c.Query("ipAddress"); ip != "" {
			filters.IPAddress = &ip
		}
		if startStr := c.Query("startDate"); startStr != "" {
			start, err := parseDate(startStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid startDate"})
				return
			}
			filters.StartDate = &start
		}
		if endStr := c.Query("endDate"); endStr != "" {
			end, err := parseDate(endStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid endDate"})
				return
			}
			filters.EndDate = &end
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > 100 {
			limit = 50
		}

		entries, total, err := h.logRepo.List(c.Request.Context(), filters, limit, (page-1)*limit)
		if err != nil {
			slog.Error("log list failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to list logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(entries),
			"total":   total,
			"pages":   int(math.Ceil(float64(total) / float64(limit))),
			"page":    page,
			"logs":    entries,
		})
	}
}

// @Summary      Get a user's activity
// @Description  Recent activity for one user. Moderators and admins may view anyone; users may view only their own.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        userId  path   string  true   "User ID"
// @Param        limit   query  int     false  "Max entries (default 50, max 100)"
// @Success      200  {object}  map[string]interface{}  "Log entries, newest first"
// @Failure      403  {object}  map[string]interface{}  "Viewing another user's activity requires moderator"
// @Router       /api/logs/user/{userId} [get]
// UserLogsHandler returns recent activity for one user
// GET /api/logs/user/:userId
func (h *Handlers) UserLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		targetID := c.Param("userId")

		// Own history is always visible; anyone else's requires moderator.
		if targetID != c.GetString(middleware.CtxUserID) {
			role, _ := c.Get(middleware.CtxUserRole)
			roleStr, _ := role.(string)
			if models.RoleRank(roleStr) < models.RoleRank(models.RoleModerator) {
				c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
				return
			}
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit < 1 || limit > 100 {
			limit = 50
		}

		entries, err := h.logRepo.RecentByUser(c.Request.Context(), targetID, limit)
		if err != nil {
			slog.Error("user log list failed", "user_id", targetID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to list logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"count":   len(entries),
			"logs":    entries,
		})
	}
}

// @Summary      Activity statistics
// @Description  Per-action totals, top client IPs, and failed-login hotspots over a time window
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        timeWindow  query  int  false  "Window in hours (default 24, max 720)"
// @Success      200  {object}  map[string]interface{}  "Aggregated statistics"
// @Router       /api/logs/stats [get]
// StatsHandler returns aggregated activity statistics (moderator+)
// GET /api/logs/stats
func (h *Handlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		hours, _ := strconv.Atoi(c.DefaultQuery("timeWindow", "24"))
		if hours < 1 || hours > 720 {
			hours = 24
		}
		window := time.Duration(hours) * time.Hour
		ctx := c.Request.Context()

		totalLogs, err := h.logRepo.CountAll(ctx)
		if err != nil {
			slog.Error("log stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute stats"})
			return
		}

		recentLogs, err := h.logRepo.CountSince(ctx, window)
		if err != nil {
			slog.Error("log stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute stats"})
			return
		}

		actionStats, err := h.logRepo.ActivityStats(ctx, window)
		if err != nil {
			slog.Error("log stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute stats"})
			return
		}

		topIPs, err := h.logRepo.TopIPs(ctx, window, 10)
		if err != nil {
			slog.Error("log stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute stats"})
			return
		}

		failedLogins, err := h.logRepo.FailedLoginsByIP(ctx, window, 10)
		if err != nil {
			slog.Error("log stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute stats"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"timeWindow": fmt.Sprintf("%dh", hours),
			"stats": gin.H{
				"totalLogs":    totalLogs,
				"recentLogs":   recentLogs,
				"actionStats":  actionStats,
				"topIPs":       topIPs,
				"failedLogins": failedLogins,
			},
		})
	}
}

// @Summary      Security alerts
// @Description  Suspicious IPs, suspicious emails, rate-limit violations, and brute-force blocks over a time window
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        timeWindow  query  int  false  "Window in hours (default 24, max 720)"
// @Success      200  {object}  map[string]interface{}  "Alert groups and total count"
// @Router       /api/logs/security-alerts [get]
// SecurityAlertsHandler returns the security-alert aggregation (moderator+)
// GET /api/logs/security-alerts
func (h *Handlers) SecurityAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		hours, _ := strconv.Atoi(c.DefaultQuery("timeWindow", "24"))
		if hours < 1 || hours > 720 {
			hours = 24
		}
		window := time.Duration(hours) * time.Hour

		alerts, err := h.logRepo.SecurityAlerts(c.Request.Context(), window)
		if err != nil {
			slog.Error("security alerts failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to compute security alerts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"timeWindow":  fmt.Sprintf("%dh", hours),
			"alerts":      alerts,
			"totalAlerts": alerts.TotalAlerts(),
		})
	}
}

// @Summary      Delete old log entries
// @Description  Remove entries strictly older than the cutoff. An entry exactly at the cutoff is kept.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        days  query  int  false  "Retention in days (default 30, min 1)"
// @Success      200  {object}  map[string]interface{}  "Deleted count"
// @Failure      400  {object}  map[string]interface{}  "Invalid days value"
// @Router       /api/logs/cleanup [delete]
// CleanupHandler bulk-deletes aged log entries (admin only)
// DELETE /api/logs/cleanup
func (h *Handlers) CleanupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := 30
		if daysStr := c.Query("days"); daysStr != "" {
			parsed, err := strconv.Atoi(daysStr)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "days must be a positive integer"})
				return
			}
			days = parsed
		}

		deleted, err := h.logRepo.Cleanup(c.Request.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			slog.Error("log cleanup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to clean up logs"})
			return
		}

		c.Set(middleware.CtxActivityDescription, fmt.Sprintf("Cleaned up %d log entries older than %d days", deleted, days))
		c.Set(middleware.CtxActivityMetadata, map[string]interface{}{
			"deletedCount": deleted,
			"days":         days,
		})

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"message":      fmt.Sprintf("Cleaned up %d log entries older than %d days", deleted, days),
			"deletedCount": deleted,
		})
	}
}
