// Package activity provides the fire-and-forget write path over the activity
// log store. Handlers and middleware hand entries to Submit and move on; the
// write happens on a background goroutine with its own timeout, and a failed
// write is reported to the operational log and metrics, never to the client.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/accountd/accountd/internal/db/models"
	"github.com/accountd/accountd/internal/safego"
	"github.com/accountd/accountd/internal/telemetry"
)

// writeTimeout bounds each detached log write.
const writeTimeout = 5 * time.Second

// Store is the subset of the activity log repository the recorder needs.
type Store interface {
	Record(ctx context.Context, entry *models.ActivityLog) error
}

// Recorder submits activity log entries asynchronously.
type Recorder struct {
	store Store
}

// NewRecorder creates a Recorder over the given store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Submit writes the entry on a background goroutine. The goroutine is launched
// before Submit returns, so callers that respond immediately afterwards have
// the write at least initiated; they never wait for confirmation.
func (r *Recorder) Submit(entry *models.ActivityLog) {
	if r == nil || r.store == nil {
		return
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.store.Record(ctx, entry); err != nil {
			telemetry.ActivityLogWritesTotal.WithLabelValues("error").Inc()
			slog.Error("failed to write activity log entry",
				"action", entry.Action,
				"ip", entry.IPAddress,
				"error", err,
			)
			return
		}
		telemetry.ActivityLogWritesTotal.WithLabelValues("ok").Inc()
	})
}

// Record writes the entry synchronously. Used by callers that need the result,
// such as tests and the seed command.
func (r *Recorder) Record(ctx context.Context, entry *models.ActivityLog) error {
	return r.store.Record(ctx, entry)
}
