// log_retention.go implements the LogRetention background job, which enforces the
// configured activity-log retention by periodically deleting entries older than
// the cutoff. The job is a no-op when maintenance.log_retention_days is zero, so
// it is always safe to start; deployments that prefer manual pruning use the
// admin cleanup endpoint instead.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/accountd/accountd/internal/config"
	"github.com/accountd/accountd/internal/db/repositories"
)

// LogRetention periodically prunes activity logs past the retention window.
type LogRetention struct {
	logs      *repositories.ActivityLogRepository
	interval  time.Duration
	retention time.Duration
	stopChan  chan struct{}
}

// NewLogRetention creates a new LogRetention job. A zero or negative sweep
// interval falls back to 24h; the retention itself comes straight from config
// because zero carries meaning (automatic pruning disabled).
func NewLogRetention(logs *repositories.ActivityLogRepository, cfg *config.MaintenanceConfig) *LogRetention {
	interval := cfg.LogCleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &LogRetention{
		logs:      logs,
		interval:  interval,
		retention: time.Duration(cfg.LogRetentionDays) * 24 * time.Hour,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the retention loop. It runs one sweep immediately, then repeats
// on the configured interval until ctx is cancelled or Stop() is called.
func (j *LogRetention) Start(ctx context.Context) {
	if j.retention <= 0 {
		log.Println("Log retention: disabled (maintenance.log_retention_days=0)")
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Printf("Log retention started (interval: %v, retention: %v)", j.interval, j.retention)

	j.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			j.runSweep(ctx)
		case <-j.stopChan:
			log.Println("Log retention stopped")
			return
		case <-ctx.Done():
			log.Println("Log retention context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *LogRetention) Stop() {
	close(j.stopChan)
}

func (j *LogRetention) runSweep(ctx context.Context) {
	deleted, err := j.logs.Cleanup(ctx, j.retention)
	if err != nil {
		log.Printf("Log retention: failed to prune activity logs: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Log retention: pruned %d activity log entr(ies) older than %v", deleted, j.retention)
	}
}
