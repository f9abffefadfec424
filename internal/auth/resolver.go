// Package auth - resolver.go turns a bearer token into a live user account.
// The user row is re-read on every request, so role changes and suspensions
// take effect immediately instead of waiting for the token to expire.
package auth

import (
	"context"
	"errors"

	"github.com/tickhole/tickhole/internal/db/models"
)

var (
	// ErrUnauthenticated means the token was missing, malformed, or failed verification
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUserNotFound means the token verified but its account no longer exists
	ErrUserNotFound = errors.New("user not found")
	// ErrSuspended means the account exists but has been suspended
	ErrSuspended = errors.New("account suspended")
)

// UserGetter is the slice of the user repository the resolver needs
type UserGetter interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// Resolver resolves bearer tokens to live user accounts
type Resolver struct {
	users UserGetter
}

// NewResolver creates a new Resolver backed by the given user store
func NewResolver(users UserGetter) *Resolver {
	return &Resolver{users: users}
}

// Resolve verifies the token and loads the current account state. A valid
// token is not enough on its own: the account must still exist and must not
// be suspended.
func (r *Resolver) Resolve(ctx context.Context, tokenString string) (*models.User, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := ValidateJWT(tokenString)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := r.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Suspended {
		return nil, ErrSuspended
	}

	return user, nil
}
