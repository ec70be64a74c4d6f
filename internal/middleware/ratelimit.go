// ratelimit.go provides Gin middleware enforcing per-client fixed-window rate
// limits per limiter class, returning 429 responses with a machine-readable
// retry-after when the window's budget is exhausted. Classes that skip
// successful requests only charge the window after the handler has run and
// reported a failure; all other classes charge on entry.
package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/activity"
	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/ratelimit"
	"github.com/accountd/accountd/internal/telemetry"
)

// RateLimitMiddleware creates a Gin middleware enforcing the given limiter
// class against the counter store. Store errors fail open: a fault in the
// limiting layer must not deny service to legitimate clients.
func RateLimitMiddleware(store ratelimit.Store, class ratelimit.Class, recorder *activity.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := class.Name + ":" + getRateLimitKey(c)
		ctx := c.Request.Context()

		var count int64
		var reset time.Time
		var err error

		if class.SkipSuccessful {
			// Only failures consume budget, so check the standing count
			// without charging; the charge happens after the handler.
			count, reset, err = store.Peek(ctx, key, class.Window)
		} else {
			count, reset, err = store.Incr(ctx, key, class.Window)
		}
		if err != nil {
			// Fail open
			c.Next()
			return
		}

		exceeded := count >= int64(class.Max)
		if !class.SkipSuccessful {
			// The increment itself may be the request that fits exactly
			exceeded = count > int64(class.Max)
		}

		if exceeded {
			rejectRateLimited(c, class, count, reset, recorder)
			return
		}

		remaining := int64(class.Max) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(class.Max))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		c.Next()

		// Charge skip-successful classes only when the attempt failed.
		if class.SkipSuccessful && c.Writer.Status() >= 400 {
			if _, _, err := store.Incr(ctx, key, class.Window); err != nil {
				// Lost charge; the next window catches up
				return
			}
		}
	}
}

// rejectRateLimited writes the 429 response and, for the login class, records
// the failed_login audit entry with rateLimitHit metadata. The audit write is
// initiated before the response is written, but never waited on.
func rejectRateLimited(c *gin.Context, class ratelimit.Class, count int64, reset time.Time, recorder *activity.Recorder) {
	telemetry.RateLimitRejectionsTotal.WithLabelValues(class.Name).Inc()

	retryAfter := int(time.Until(reset).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	if class.Name == ratelimit.ClassLogin && recorder != nil {
		email := ""
		if body := struct {
			Email string `json:"email"`
		}{}; c.ShouldBindBodyWithJSON(&body) == nil {
			email = body.Email
		}

		metadata := map[string]interface{}{
			"rateLimitHit": true,
			"attempts":     count,
		}
		if email != "" {
			metadata["email"] = email
		}

		userAgent := c.Request.UserAgent()
		recorder.Submit(&models.ActivityLog{
			Action:      models.ActionFailedLogin,
			Description: "Login rate limit exceeded",
			IPAddress:   c.ClientIP(),
			UserAgent:   &userAgent,
			Success:     false,
			Metadata:    metadata,
		})
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(class.Max))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success":    false,
		"message":    fmt.Sprintf("Too many requests, please try again in %d seconds", retryAfter),
		"retryAfter": retryAfter,
	})
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if userID := c.GetString(CtxUserID); userID != "" {
		return "user:" + userID
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
