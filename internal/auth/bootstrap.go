// Package auth — bootstrap credential for operator actions.
//
// The service has no password login for members (providers own credentials),
// but promoting the first admin needs an out-of-band secret. The operator
// configures a bcrypt hash of a bootstrap password; the promote endpoint
// verifies the plaintext against it.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor. Cost 12 takes roughly ~250ms on a
// modern server — negligible for the rare promote call, brutal for brute
// force.
const defaultCost = 12

// BootstrapService verifies the operator's bootstrap password against a
// configured bcrypt hash.
//
// It's a struct (not free functions) so the cost can be injected in tests —
// cost 4 makes them fast without changing the logic under test.
type BootstrapService struct {
	hash string
	cost int
}

// NewBootstrapService creates a BootstrapService for the given bcrypt hash.
// An empty hash disables the bootstrap credential entirely.
func NewBootstrapService(hash string) *BootstrapService {
	return &BootstrapService{hash: hash, cost: defaultCost}
}

// NewBootstrapServiceForTest creates a BootstrapService with a custom bcrypt
// cost. Use cost 4 in tests to avoid the ~250ms per hash of cost 12.
func NewBootstrapServiceForTest(hash string, cost int) *BootstrapService {
	return &BootstrapService{hash: hash, cost: cost}
}

// Enabled reports whether a bootstrap hash is configured.
func (b *BootstrapService) Enabled() bool {
	return b.hash != ""
}

// Hash hashes a plaintext bootstrap password with bcrypt. Ops run this once
// to produce the value for BOOTSTRAP_PASSWORD_HASH.
//
// bcrypt silently truncates input longer than 72 bytes, so we reject it
// explicitly instead.
func (b *BootstrapService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), b.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks a plaintext bootstrap password against the configured hash.
// bcrypt.CompareHashAndPassword is constant-time, so response timing leaks
// nothing about how close the guess was.
func (b *BootstrapService) Verify(plaintext string) error {
	if !b.Enabled() {
		return errors.New("auth: bootstrap credential is not configured")
	}

	err := bcrypt.CompareHashAndPassword([]byte(b.hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("auth: invalid bootstrap password")
		}
		return fmt.Errorf("auth: comparing bootstrap hash: %w", err)
	}
	return nil
}
