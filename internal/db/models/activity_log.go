// Package models - activity_log.go defines the ActivityLog model for recording
// security-relevant events, capturing actor, action, client IP, outcome, and
// arbitrary metadata. Entries are append-only; only age-based cleanup removes them.
package models

import "time"

// Activity log actions. Every entry carries exactly one of these.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionSignup         = "signup"
	ActionForgotPassword = "forgot_password"
	ActionResetPassword  = "reset_password"
	ActionProfileUpdate  = "profile_update"
	ActionAvatarUpload   = "avatar_upload"
	ActionPasswordChange = "password_change"
	ActionRoleChange     = "role_change"
	ActionUserDelete     = "user_delete"
	ActionFailedLogin    = "failed_login"
	ActionTokenRefresh   = "token_refresh"
	ActionAccountAccess  = "account_access"
)

// validActions is the closed set of recognized actions
var validActions = map[string]bool{
	ActionLogin:          true,
	ActionLogout:         true,
	ActionSignup:         true,
	ActionForgotPassword: true,
	ActionResetPassword:  true,
	ActionProfileUpdate:  true,
	ActionAvatarUpload:   true,
	ActionPasswordChange: true,
	ActionRoleChange:     true,
	ActionUserDelete:     true,
	ActionFailedLogin:    true,
	ActionTokenRefresh:   true,
	ActionAccountAccess:  true,
}

// ValidAction reports whether action is a recognized activity log action.
func ValidAction(action string) bool {
	return validActions[action]
}

// ActivityLog represents one audit record
type ActivityLog struct {
	ID          string  `json:"id"`
	UserID      *string `json:"userId"` // nil for anonymous events (failed logins, rate-limit hits)
	Action      string  `json:"action"`
	Description string  `json:"description"`
	IPAddress   string  `json:"ipAddress"`
	UserAgent   *string `json:"userAgent,omitempty"`
	Success     bool    `json:"success"`
	// ErrorMessage is set when Success is false.
	ErrorMessage *string `json:"errorMessage,omitempty"`
	// Metadata: method, url, status, email, rateLimitHit, bruteForceBlocked, ...
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ActivityLogWithUser is a log row joined with the acting user, for admin listings.
type ActivityLogWithUser struct {
	ActivityLog
	User *PublicUser `json:"user,omitempty"` // nil when the entry has no user or the user was deleted
}

// ActionStat is one row of the per-action aggregation over a trailing window.
type ActionStat struct {
	Action   string `json:"action"`
	Total    int64  `json:"total"`
	Success  int64  `json:"success"`
	Failures int64  `json:"failures"`
}

// IPStat is one row of the top-talkers aggregation.
type IPStat struct {
	IPAddress string    `json:"ipAddress"`
	Count     int64     `json:"count"`
	Actions   []string  `json:"actions,omitempty"`
	LastSeen  time.Time `json:"lastAttempt"`
}

// SuspiciousEmail is one row of the per-email failed-login aggregation.
type SuspiciousEmail struct {
	Email          string    `json:"email"`
	FailedAttempts int64     `json:"failedAttempts"`
	IPs            []string  `json:"ips"`
	LastAttempt    time.Time `json:"lastAttempt"`
}

// SecurityAlerts is the full alert report over a trailing window.
type SecurityAlerts struct {
	SuspiciousIPs       []IPStat          `json:"suspiciousIPs"`
	SuspiciousEmails    []SuspiciousEmail `json:"suspiciousEmails"`
	RateLimitViolations int64             `json:"rateLimitViolations"`
	BruteForceAttempts  int64             `json:"bruteForceAttempts"`
}

// TotalAlerts returns the headline alert count for the report.
func (a *SecurityAlerts) TotalAlerts() int64 {
	return int64(len(a.SuspiciousIPs)) + int64(len(a.SuspiciousEmails)) +
		a.RateLimitViolations + a.BruteForceAttempts
}
