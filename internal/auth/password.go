// Package auth - password.go handles password hashing and verification.
// Only bcrypt hashes are ever stored — never the raw password.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the minimum accepted password length
	MinPasswordLength = 8
)

// HashPassword hashes a plaintext password with bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", errors.New("password must be at least 8 characters")
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}

	return string(hashBytes), nil
}

// HashPasswordWithCost hashes a plaintext password with an explicit bcrypt
// cost factor, for deployments that tune the factor via configuration. A cost
// of 0 falls back to BcryptCost.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if len(password) < MinPasswordLength {
		return "", errors.New("password must be at least 8 characters")
	}
	if cost == 0 {
		cost = BcryptCost
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}

	return string(hashBytes), nil
}

// VerifyPassword checks a plaintext password against a stored bcrypt hash
// using constant-time comparison
func VerifyPassword(storedHash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password))
	return err == nil
}
