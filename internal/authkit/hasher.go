package authkit

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used for local passwords.
const DefaultBcryptCost = 10

// PasswordHasher hashes and verifies local passwords.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify reports a mismatch as (false, nil); a non-nil error means the hash is unusable.
	Verify(hash string, plaintext string) (bool, error)
}

// BcryptHasher implements PasswordHasher with salted bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher constructs a hasher; costs outside bcrypt's range fall back to DefaultBcryptCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the bcrypt hash of plaintext.
func (hasher *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), hasher.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify compares plaintext against hash in constant time.
func (hasher *BcryptHasher) Verify(hash string, plaintext string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
