// refresh_token_repository.go implements RefreshTokenRepository, persisting
// issued refresh credentials with their revocation state and rotation trail.
// Revoke-old and create-new are separate statements, not a transaction: a crash
// between them leaves the old token revoked and no successor, which only forces
// the user to log in again.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/accountd/accountd/internal/db/models"
)

// RefreshTokenRepository handles refresh token database operations
type RefreshTokenRepository struct {
	db *sql.DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository
func NewRefreshTokenRepository(db *sql.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

const refreshTokenColumns = `id, token, user_id, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token`

// scanRefreshToken scans one refresh token row from the given scanner.
func scanRefreshToken(row interface{ Scan(...interface{}) error }) (*models.RefreshToken, error) {
	token := &models.RefreshToken{}
	err := row.Scan(
		&token.ID,
		&token.Token,
		&token.UserID,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.CreatedByIP,
		&token.RevokedAt,
		&token.RevokedByIP,
		&token.ReplacedByToken,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// Create persists a newly issued refresh token
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	token.CreatedAt = time.Now()

	query := `
		INSERT INTO refresh_tokens (id, token, user_id, expires_at, created_at, created_by_ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.Token,
		token.UserID,
		token.ExpiresAt,
		token.CreatedAt,
		token.CreatedByIP,
	)

	return err
}

// GetByToken retrieves a refresh token record by its token string
func (r *RefreshTokenRepository) GetByToken(ctx context.Context, tokenString string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1`
	return scanRefreshToken(r.db.QueryRowContext(ctx, query, tokenString))
}

// Revoke marks a token revoked, recording the revoking IP and, on rotation,
// the token that replaces it.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID, revokedByIP string, replacedByToken *string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = now(), revoked_by_ip = $2, replaced_by_token = $3
		WHERE id = $1 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, tokenID, revokedByIP, replacedByToken)
	return err
}

// RevokeAllForUser revokes every active token belonging to a user.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, revokedByIP string) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = now(), revoked_by_ip = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, userID, revokedByIP)
	return err
}

// DeleteExpired removes tokens whose expiry passed more than the grace period
// ago. Keeping recently expired rows preserves the rotation trail for audits.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`,
		time.Now().Add(-grace),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
