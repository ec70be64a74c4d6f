// Package models - refresh_token.go defines the RefreshToken model. Each row
// records one issued refresh credential with its creation IP and a rotation
// trail: when rotated, the old row is revoked and stamped with the token that
// replaced it, forming a linked list of successors.
package models

import "time"

// RefreshToken represents a persisted refresh credential
type RefreshToken struct {
	ID          string
	Token       string // the signed JWT as issued to the client
	UserID      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	CreatedByIP string

	// Revocation state. A token is active only while all three are nil/unset
	// and ExpiresAt is in the future.
	RevokedAt       *time.Time
	RevokedByIP     *string
	ReplacedByToken *string
}

// Revoked reports whether the token has been explicitly revoked.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether the token has passed its expiry.
func (t *RefreshToken) Expired() bool {
	return time.Now().After(t.ExpiresAt)
}

// Active reports whether the token may still be exchanged: not revoked and not
// expired. Cryptographic validity is checked separately by the auth package.
func (t *RefreshToken) Active() bool {
	return !t.Revoked() && !t.Expired()
}
