// Package auth - roles.go defines the closed set of account roles. There is no
// dynamic role or permission table: the three roles are the whole model, and
// policy decisions switch over them directly.
package auth

import "fmt"

// Role is an account role
type Role string

const (
	// RoleAdmin can manage users and see everything, including the audit trail
	RoleAdmin Role = "admin"
	// RoleSupport can work any issue but cannot manage accounts
	RoleSupport Role = "support"
	// RoleUser can only work resources they own
	RoleUser Role = "user"
)

// ParseRole validates a stored role string
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleSupport, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Privileged reports whether the role carries staff-level access
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleSupport
}

// Valid reports whether r is one of the three defined roles
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}
