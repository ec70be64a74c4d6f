// activity_log_repository.go implements ActivityLogRepository, the write and
// query layer over the append-only activity_logs table: filtered listings,
// per-window counting queries for the brute-force guard, per-action statistics,
// and the security-alert aggregations. Aggregation reads go through sqlx; the
// write path and single-row reads use database/sql directly.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/accountd/accountd/internal/db/models"
)

// ActivityLogRepository handles activity log database operations
type ActivityLogRepository struct {
	db  *sql.DB
	dbx *sqlx.DB
}

// NewActivityLogRepository creates a new ActivityLogRepository
func NewActivityLogRepository(db *sql.DB) *ActivityLogRepository {
	return &ActivityLogRepository{
		db:  db,
		dbx: sqlx.NewDb(db, "postgres"),
	}
}

// ActivityLogFilters contains filters for querying activity logs
type ActivityLogFilters struct {
	UserID    *string
	Action    *string
	Success   *bool
	IPAddress *string
	StartDate *time.Time
	EndDate   *time.Time
}

// Record validates and inserts one activity log entry. Required fields missing
// means the write is rejected before touching the database.
func (r *ActivityLogRepository) Record(ctx context.Context, entry *models.ActivityLog) error {
	if !models.ValidAction(entry.Action) {
		return fmt.Errorf("invalid activity log action: %q", entry.Action)
	}
	if entry.IPAddress == "" {
		return fmt.Errorf("activity log entry requires an ip address")
	}
	if entry.Description == "" {
		return fmt.Errorf("activity log entry requires a description")
	}

	entry.ID = uuid.New().String()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	metadataJSON := []byte("{}")
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO activity_logs (id, user_id, action, description, ip_address, user_agent, success, error_message, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Description,
		entry.IPAddress,
		entry.UserAgent,
		entry.Success,
		entry.ErrorMessage,
		metadataJSON,
		entry.Timestamp,
	)

	return err
}

const activityLogColumns = `id, user_id, action, description, ip_address, user_agent, success, error_message, metadata, timestamp`

// scanActivityLog scans one log row from the given scanner.
func scanActivityLog(row interface{ Scan(...interface{}) error }) (*models.ActivityLog, error) {
	entry := &models.ActivityLog{}
	var metadataJSON []byte

	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Action,
		&entry.Description,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.Success,
		&entry.ErrorMessage,
		&metadataJSON,
		&entry.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// RecentByUser returns up to limit entries for a user, newest first.
func (r *ActivityLogRepository) RecentByUser(ctx context.Context, userID string, limit int) ([]*models.ActivityLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + activityLogColumns + `
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.ActivityLog, 0)
	for rows.Next() {
		entry, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// CountFailedLogins counts failed_login entries for an IP within the trailing
// window, evaluated against the entry timestamp.
func (r *ActivityLogRepository) CountFailedLogins(ctx context.Context, ipAddress string, window time.Duration) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM activity_logs
		WHERE action = 'failed_login' AND ip_address = $1 AND timestamp >= $2
	`

	var count int64
	err := r.db.QueryRowContext(ctx, query, ipAddress, time.Now().Add(-window)).Scan(&count)
	return count, err
}

// List retrieves activity logs with optional filters and pagination, each row
// joined with the acting user when one is still on record.
func (r *ActivityLogRepository) List(ctx context.Context, filters ActivityLogFilters, limit, offset int) ([]*models.ActivityLogWithUser, int, error) {
	countQuery := `SELECT COUNT(*) FROM activity_logs l WHERE 1=1`
	query := `
		SELECT l.id, l.user_id, l.action, l.description, l.ip_address, l.user_agent,
		       l.success, l.error_message, l.metadata, l.timestamp,
		       u.id, u.name, u.email, u.role, u.avatar_url, u.created_at
		FROM activity_logs l
		LEFT JOIN users u ON l.user_id = u.id
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	// Apply filters
	if filters.UserID != nil {
		countQuery += fmt.Sprintf(` AND l.user_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.user_id = $%d`, paramIndex)
		args = append(args, *filters.UserID)
		paramIndex++
	}

	if filters.Action != nil {
		countQuery += fmt.Sprintf(` AND l.action = $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}

	if filters.Success != nil {
		countQuery += fmt.Sprintf(` AND l.success = $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.success = $%d`, paramIndex)
		args = append(args, *filters.Success)
		paramIndex++
	}

	if filters.IPAddress != nil {
		countQuery += fmt.Sprintf(` AND l.ip_address = $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.ip_address = $%d`, paramIndex)
		args = append(args, *filters.IPAddress)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND l.timestamp >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.timestamp >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND l.timestamp <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND l.timestamp <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	// Get total count
	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	// Add ordering and pagination
	query += fmt.Sprintf(` ORDER BY l.timestamp DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.ActivityLogWithUser, 0)
	for rows.Next() {
		entry := &models.ActivityLogWithUser{}
		var metadataJSON []byte
		var userID, userName, userEmail, userRole *string
		var userAvatar *string
		var userCreatedAt *time.Time

		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Action,
			&entry.Description,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.Success,
			&entry.ErrorMessage,
			&metadataJSON,
			&entry.Timestamp,
			&userID,
			&userName,
			&userEmail,
			&userRole,
			&userAvatar,
			&userCreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, 0, err
			}
		}

		if userID != nil {
			entry.User = &models.PublicUser{
				ID:        *userID,
				Name:      *userName,
				Email:     *userEmail,
				Role:      *userRole,
				AvatarURL: userAvatar,
			}
			if userCreatedAt != nil {
				entry.User.CreatedAt = *userCreatedAt
			}
		}

		entries = append(entries, entry)
	}

	return entries, total, rows.Err()
}

// ActivityStats returns grouped per-action counts over the trailing window:
// total, successes, and failures per action, sorted by total descending.
func (r *ActivityLogRepository) ActivityStats(ctx context.Context, window time.Duration) ([]models.ActionStat, error) {
	query := `
		SELECT action,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE success) AS success,
		       COUNT(*) FILTER (WHERE NOT success) AS failures
		FROM activity_logs
		WHERE timestamp >= $1
		GROUP BY action
		ORDER BY total DESC
	`

	rows, err := r.dbx.QueryxContext(ctx, query, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]models.ActionStat, 0)
	for rows.Next() {
		var s models.ActionStat
		if err := rows.Scan(&s.Action, &s.Total, &s.Success, &s.Failures); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// TopIPs returns the most active IPs within the trailing window, each with its
// distinct action set.
func (r *ActivityLogRepository) TopIPs(ctx context.Context, window time.Duration, limit int) ([]models.IPStat, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ip_address,
		       COUNT(*) AS count,
		       array_agg(DISTINCT action) AS actions,
		       MAX(timestamp) AS last_seen
		FROM activity_logs
		WHERE timestamp >= $1
		GROUP BY ip_address
		ORDER BY count DESC
		LIMIT $2
	`

	return r.queryIPStats(ctx, query, time.Now().Add(-window), limit)
}

// FailedLoginsByIP returns IPs with failed_login entries within the trailing
// window, sorted by count descending.
func (r *ActivityLogRepository) FailedLoginsByIP(ctx context.Context, window time.Duration, limit int) ([]models.IPStat, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ip_address,
		       COUNT(*) AS count,
		       array_agg(DISTINCT action) AS actions,
		       MAX(timestamp) AS last_seen
		FROM activity_logs
		WHERE action = 'failed_login' AND timestamp >= $1
		GROUP BY ip_address
		ORDER BY count DESC
		LIMIT $2
	`

	return r.queryIPStats(ctx, query, time.Now().Add(-window), limit)
}

// queryIPStats runs an ip_address grouping query with an (arg, limit) shape.
func (r *ActivityLogRepository) queryIPStats(ctx context.Context, query string, since time.Time, limit int) ([]models.IPStat, error) {
	rows, err := r.dbx.QueryxContext(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]models.IPStat, 0)
	for rows.Next() {
		var s models.IPStat
		if err := rows.Scan(&s.IPAddress, &s.Count, pq.Array(&s.Actions), &s.LastSeen); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

// SecurityAlerts computes the full alert report over the trailing window:
// suspicious IPs (>=5 failed entries of any action), suspicious emails
// (>=3 failed logins grouped by metadata email), and counts of rate-limit and
// brute-force rejections. Read-only; no side effects.
func (r *ActivityLogRepository) SecurityAlerts(ctx context.Context, window time.Duration) (*models.SecurityAlerts, error) {
	since := time.Now().Add(-window)
	alerts := &models.SecurityAlerts{
		SuspiciousIPs:    make([]models.IPStat, 0),
		SuspiciousEmails: make([]models.SuspiciousEmail, 0),
	}

	ipQuery := `
		SELECT ip_address,
		       COUNT(*) AS failed_attempts,
		       array_agg(DISTINCT action) AS actions,
		       MAX(timestamp) AS last_attempt
		FROM activity_logs
		WHERE timestamp >= $1 AND NOT success
		GROUP BY ip_address
		HAVING COUNT(*) >= 5
		ORDER BY failed_attempts DESC
	`

	rows, err := r.dbx.QueryxContext(ctx, ipQuery, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s models.IPStat
		if err := rows.Scan(&s.IPAddress, &s.Count, pq.Array(&s.Actions), &s.LastSeen); err != nil {
			rows.Close()
			return nil, err
		}
		alerts.SuspiciousIPs = append(alerts.SuspiciousIPs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	emailQuery := `
		SELECT metadata->>'email' AS email,
		       COUNT(*) AS failed_attempts,
		       array_agg(DISTINCT ip_address) AS ips,
		       MAX(timestamp) AS last_attempt
		FROM activity_logs
		WHERE action = 'failed_login' AND timestamp >= $1 AND metadata ? 'email'
		GROUP BY metadata->>'email'
		HAVING COUNT(*) >= 3
		ORDER BY failed_attempts DESC
	`

	rows, err = r.dbx.QueryxContext(ctx, emailQuery, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s models.SuspiciousEmail
		if err := rows.Scan(&s.Email, &s.FailedAttempts, pq.Array(&s.IPs), &s.LastAttempt); err != nil {
			rows.Close()
			return nil, err
		}
		alerts.SuspiciousEmails = append(alerts.SuspiciousEmails, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	countQuery := `
		SELECT COUNT(*) FILTER (WHERE metadata @> '{"rateLimitHit": true}') AS rate_limit,
		       COUNT(*) FILTER (WHERE metadata @> '{"bruteForceBlocked": true}') AS brute_force
		FROM activity_logs
		WHERE timestamp >= $1
	`

	err = r.dbx.QueryRowxContext(ctx, countQuery, since).Scan(
		&alerts.RateLimitViolations,
		&alerts.BruteForceAttempts,
	)
	if err != nil {
		return nil, err
	}

	return alerts, nil
}

// CountAll returns the total number of activity log entries.
func (r *ActivityLogRepository) CountAll(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&total)
	return total, err
}

// CountSince returns the number of entries within the trailing window.
func (r *ActivityLogRepository) CountSince(ctx context.Context, window time.Duration) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_logs WHERE timestamp >= $1`,
		time.Now().Add(-window),
	).Scan(&total)
	return total, err
}

// Cleanup deletes entries strictly older than the cutoff. An entry whose
// timestamp equals the cutoff exactly is kept. Returns the deleted row count.
func (r *ActivityLogRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_logs WHERE timestamp < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
