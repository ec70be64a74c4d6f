// Package security implements the brute-force login guard. Unlike the rate
// limiter's in-memory counters, the guard consults persisted failed-login
// history, so it survives restarts and covers every instance sharing the
// database. The blocked-until time it reports is advisory: the decision is
// recomputed from the trailing window on every call, so an attacker stays
// blocked exactly as long as their failures stay inside the window.
package security

import (
	"context"
	"log/slog"
	"time"

	"github.com/accountd/accountd/internal/activity"
	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/telemetry"
)

// FailedLoginCounter is the query the guard needs from the activity log store.
type FailedLoginCounter interface {
	CountFailedLogins(ctx context.Context, ipAddress string, window time.Duration) (int64, error)
}

// Decision is the outcome of a brute-force check.
type Decision struct {
	Blocked        bool
	FailedAttempts int64
	// BlockedUntil is now + block duration at decision time. Advisory only:
	// the block lapses as soon as the trailing window empties of failures.
	BlockedUntil time.Time
}

// Guard blocks login attempts from IPs with too many recent failures.
type Guard struct {
	counter  FailedLoginCounter
	recorder *activity.Recorder
	cfg      config.BruteForceConfig
}

// NewGuard creates a Guard with the given configuration.
func NewGuard(counter FailedLoginCounter, recorder *activity.Recorder, cfg config.BruteForceConfig) *Guard {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 15 * time.Minute
	}
	return &Guard{counter: counter, recorder: recorder, cfg: cfg}
}

// Check counts recent failed logins for the IP and decides whether to block.
// On block it records the audit entry (initiated before the caller responds).
// Errors computing the count fail open: a fault in the monitoring layer must
// not become a denial of service against legitimate users.
func (g *Guard) Check(ctx context.Context, ipAddress string) Decision {
	if !g.cfg.Enabled {
		return Decision{}
	}

	count, err := g.counter.CountFailedLogins(ctx, ipAddress, g.cfg.Window)
	if err != nil {
		slog.Error("brute force guard: failed to count failed logins, allowing request",
			"ip", ipAddress,
			"error", err,
		)
		return Decision{}
	}

	if count < int64(g.cfg.MaxAttempts) {
		return Decision{FailedAttempts: count}
	}

	telemetry.BruteForceBlocksTotal.Inc()

	g.recorder.Submit(&models.ActivityLog{
		Action:      models.ActionFailedLogin,
		Description: "Login blocked: too many failed attempts",
		IPAddress:   ipAddress,
		Success:     false,
		Metadata: map[string]interface{}{
			"bruteForceBlocked": true,
			"failedAttempts":    count,
		},
	})

	return Decision{
		Blocked:        true,
		FailedAttempts: count,
		BlockedUntil:   time.Now().Add(g.cfg.BlockDuration),
	}
}
