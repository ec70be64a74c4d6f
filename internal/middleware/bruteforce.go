// bruteforce.go provides the login-route gate over the brute-force guard.
// It runs after the login rate limiter: the limiter counts requests in memory
// per instance, while the guard consults persisted failed-login history.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/security"
)

// BruteForceMiddleware blocks login attempts from IPs whose recent failed
// logins meet the guard's threshold, even when the submitted credentials are
// correct. Guard-internal errors fail open inside Check.
func BruteForceMiddleware(guard *security.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := guard.Check(c.Request.Context(), c.ClientIP())
		if !decision.Blocked {
			c.Next()
			return
		}

		retryAfter := int(time.Until(decision.BlockedUntil).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}

		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":        false,
			"message":        "Too many failed login attempts. Please try again later.",
			"failedAttempts": decision.FailedAttempts,
			"blockedUntil":   decision.BlockedUntil,
			"retryAfter":     retryAfter,
		})
	}
}
