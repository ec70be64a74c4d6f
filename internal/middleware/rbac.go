// Package middleware (rbac.go) implements role-based authorization middleware.
//
// The role is checked against the database-loaded user at request time rather
// than trusting the role claim embedded in the JWT. This is a deliberate
// design choice: when an admin demotes a user, the change takes effect on the
// user's next request without needing to invalidate or reissue their token.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/db/models"
)

// contextRole reads the authenticated user's role from the request context.
func contextRole(c *gin.Context) (string, bool) {
	roleVal, exists := c.Get(CtxUserRole)
	if !exists {
		return "", false
	}
	role, ok := roleVal.(string)
	return role, ok
}

// RequireRole allows only users whose role is exactly the given one.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, ok := contextRole(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Access denied",
			})
			return
		}

		if userRole != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Access denied",
			})
			return
		}

		c.Next()
	}
}

// RequireMinRole allows users whose role meets or exceeds the given one in
// the user < moderator < admin hierarchy.
func RequireMinRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, ok := contextRole(c)
		if !ok || models.RoleRank(userRole) < models.RoleRank(role) || models.RoleRank(role) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Access denied",
			})
			return
		}

		c.Next()
	}
}

// RequireSelfOrMinRole allows the request when the authenticated user's ID
// matches the given path parameter, or when their role meets the minimum.
// Used for routes like DELETE /api/users/:id (admin or self).
func RequireSelfOrMinRole(idParam, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserID)
		if userID != "" && userID == c.Param(idParam) {
			c.Next()
			return
		}

		userRole, ok := contextRole(c)
		if !ok || models.RoleRank(userRole) < models.RoleRank(role) || models.RoleRank(role) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "Access denied",
			})
			return
		}

		c.Next()
	}
}
