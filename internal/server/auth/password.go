package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies account passwords with bcrypt.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with cost clamped to bcrypt's valid range.
// A non-positive cost selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

func (h *Hasher) Hash(password []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(password, h.Cost)
}

// Compare returns nil when password matches hash.
func (h *Hasher) Compare(hash, password []byte) error {
	return bcrypt.CompareHashAndPassword(hash, password)
}
