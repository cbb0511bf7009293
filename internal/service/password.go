package service

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/zainulabideen041/storink/internal/apperr"
)

const (
	// MinPasswordLength is the shortest accepted credential.
	MinPasswordLength = 6
	// maxPasswordBytes is bcrypt's input limit.
	maxPasswordBytes = 72
)

// PasswordHasher derives and checks credential digests.
type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	// Compare returns apperr.ErrInvalidCredential when password does not match hash.
	Compare(hash []byte, password string) error
}

// BcryptHasher is a PasswordHasher backed by bcrypt.
type BcryptHasher struct {
	cost  int
	dummy []byte
}

// NewBcryptHasher creates a hasher with the given work factor.
func NewBcryptHasher(cost int) *BcryptHasher {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("storink-dummy-credential"), cost)
	return &BcryptHasher{cost: cost, dummy: dummy}
}

// Hash implements PasswordHasher.
func (h *BcryptHasher) Hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Compare implements PasswordHasher.
func (h *BcryptHasher) Compare(hash []byte, password string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return apperr.ErrInvalidCredential
	}
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}

// Burn spends the same time as a failed Compare. It keeps unknown-email logins
// as slow as wrong-password logins.
func (h *BcryptHasher) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}

func validatePassword(password string) error {
	switch {
	case password == "":
		return apperr.Validation("password is required")
	case len(password) < MinPasswordLength:
		return apperr.Validation("password must be at least %d characters", MinPasswordLength)
	case len(password) > maxPasswordBytes:
		return apperr.Validation("password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}
