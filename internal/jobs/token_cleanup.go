// token_cleanup.go implements the TokenCleanup background job, which periodically
// deletes refresh tokens that expired longer ago than the configured grace period.
// Expired-but-recent rows are kept so the rotation trail (replaced_by_token chains)
// remains inspectable while investigating a token-reuse incident.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/repositories"
)

// TokenCleanup periodically purges long-expired refresh tokens.
type TokenCleanup struct {
	tokens   *repositories.RefreshTokenRepository
	interval time.Duration
	grace    time.Duration
	stopChan chan struct{}
}

// NewTokenCleanup creates a new TokenCleanup job. Zero or negative config
// values fall back to a 1h sweep interval and a 30-day grace period.
func NewTokenCleanup(tokens *repositories.RefreshTokenRepository, cfg *config.MaintenanceConfig) *TokenCleanup {
	interval := cfg.TokenCleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	grace := cfg.TokenGracePeriod
	if grace <= 0 {
		grace = 30 * 24 * time.Hour
	}
	return &TokenCleanup{
		tokens:   tokens,
		interval: interval,
		grace:    grace,
		stopChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop. It runs one sweep immediately, then repeats
// on the configured interval until ctx is cancelled or Stop() is called.
func (j *TokenCleanup) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Token cleanup started (interval: %v, grace period: %v)", j.interval, j.grace)

	j.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.runSweep(ctx)
		case <-j.stopChan:
			log.Println("Token cleanup stopped")
			return
		case <-ctx.Done():
			log.Println("Token cleanup context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *TokenCleanup) Stop() {
	close(j.stopChan)
}

func (j *TokenCleanup) runSweep(ctx context.Context) {
	deleted, err := j.tokens.DeleteExpired(ctx, j.grace)
	if err != nil {
		log.Printf("Token cleanup: failed to delete expired tokens: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Token cleanup: deleted %d expired refresh token(s)", deleted)
	}
}
