// Package models - user.go defines the User model for help-desk accounts with email,
// display name, bcrypt password hash, role, and suspension state.
package models

import "time"

// User represents a user in the system
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"` // "admin", "support", or "user"
	Suspended    bool       `json:"suspended"`
	SuspendedAt  *time.Time `json:"suspended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
