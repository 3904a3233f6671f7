// Package auth protects the controller with a single shared password.
// Browsers sign in once and carry a signed session cookie; API clients may
// send the password with HTTP Basic auth instead.
package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used for the configured password. It is
// hashed once at startup, so the cost only shows up in login latency.
const (
	DefaultCost = 12
	MinCost     = bcrypt.MinCost
	MaxCost     = bcrypt.MaxCost
)

var (
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordMismatch = errors.New("password does not match")
	ErrInvalidHash      = errors.New("invalid password hash format")
)

// HashPassword hashes password at cost, which must lie in [MinCost, MaxCost].
func HashPassword(password string, cost int) (string, error) {
	switch {
	case password == "":
		return "", ErrEmptyPassword
	case cost < MinCost || cost > MaxCost:
		return "", bcrypt.InvalidCostError(cost)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(hash), err
}

// VerifyPassword reports ErrPasswordMismatch for any hash that does not
// accept password, malformed hashes included.
func VerifyPassword(password, hash string) error {
	switch {
	case password == "":
		return ErrEmptyPassword
	case hash == "":
		return ErrInvalidHash
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrPasswordMismatch
	}
	return nil
}
