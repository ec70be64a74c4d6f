// activity.go provides per-route Gin middleware that records activity log
// entries after the handler has run. The write is handed to the recorder's
// fire-and-forget path, so the response never waits on the database.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/activity"
	"github.com/accountd/accountd/internal/db/models"
)

// Context keys handlers may set to enrich or suppress the middleware's entry.
const (
	// CtxActivitySkip suppresses the middleware entry; set when the handler
	// has recorded a more specific one itself (e.g. failed_login with email).
	CtxActivitySkip = "activity_skip"
	// CtxActivityDescription overrides the default entry description.
	CtxActivityDescription = "activity_description"
	// CtxActivityMetadata merges handler-supplied keys into the metadata map.
	CtxActivityMetadata = "activity_metadata"
)

// ActivityMiddleware records one entry with the given action for each request
// through the route, capturing outcome, client address, and request metadata.
func ActivityMiddleware(recorder *activity.Recorder, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.GetBool(CtxActivitySkip) {
			return
		}

		status := c.Writer.Status()
		success := status < 400

		// Failed logins are recorded by the login handler with the attempted
		// email attached; a second generic entry would skew the failure counts.
		if action == models.ActionLogin && !success {
			return
		}

		metadata := map[string]interface{}{
			"method":         c.Request.Method,
			"url":            c.Request.URL.Path,
			"statusCode":     status,
			"responseTimeMs": time.Since(start).Milliseconds(),
		}
		if extra, exists := c.Get(CtxActivityMetadata); exists {
			if m, ok := extra.(map[string]interface{}); ok {
				for k, v := range m {
					metadata[k] = v
				}
			}
		}

		description := c.GetString(CtxActivityDescription)
		if description == "" {
			description = fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		}

		entry := &models.ActivityLog{
			Action:      action,
			Description: description,
			IPAddress:   c.ClientIP(),
			Success:     success,
			Metadata:    metadata,
		}

		if userAgent := c.Request.UserAgent(); userAgent != "" {
			entry.UserAgent = &userAgent
		}
		if userID := c.GetString(CtxUserID); userID != "" {
			entry.UserID = &userID
		}
		if !success {
			msg := fmt.Sprintf("request failed with status %d", status)
			entry.ErrorMessage = &msg
		}

		recorder.Submit(entry)
	}
}
