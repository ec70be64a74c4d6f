// Package models - user.go defines the User model for accounts with email,
// display name, bcrypt password hash, role, and password-reset state.
package models

import "time"

// Role names, ordered by privilege. RoleRank gives the hierarchy used by the
// RBAC middleware: a higher rank satisfies a lower requirement.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// roleRanks maps role names to their privilege rank
var roleRanks = map[string]int{
	RoleUser:      1,
	RoleModerator: 2,
	RoleAdmin:     3,
}

// ValidRole reports whether name is a recognized role.
func ValidRole(name string) bool {
	_, ok := roleRanks[name]
	return ok
}

// RoleRank returns the privilege rank of a role, or 0 for unknown roles.
func RoleRank(name string) int {
	return roleRanks[name]
}

// User represents a user account
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string  // bcrypt; never serialized to API responses
	Role         string  // one of RoleUser, RoleModerator, RoleAdmin
	AvatarURL    *string

	// Password-reset state: SHA-256 hex of the raw token and its expiry.
	// Both nil when no reset is outstanding.
	ResetPasswordToken   *string
	ResetPasswordExpires *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasMinRole reports whether the user's role meets or exceeds the required role.
func (u *User) HasMinRole(required string) bool {
	return RoleRank(u.Role) >= RoleRank(required) && RoleRank(required) > 0
}

// PublicUser is the API-safe projection of a User.
type PublicUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	AvatarURL *string   `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public returns the API-safe projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}
