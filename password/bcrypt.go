// Package password wraps bcrypt credential hashing behind a small, fixed
// interface so the engine never touches hash parameters directly.
package password

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when no cost is configured.
const DefaultCost = 12

// dummyHash is a valid bcrypt hash of an unknowable random string. Verify
// against it on the unknown-account path so lookup misses cost the same as
// password mismatches.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Hasher hashes and verifies passwords at a fixed cost.
type Hasher struct {
	cost int
}

// New creates a Hasher. Costs below bcrypt.MinCost fall back to
// DefaultCost; costs above bcrypt.MaxCost are rejected.
func New(cost int) (*Hasher, error) {
	if cost <= 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, errors.New("password: invalid bcrypt cost")
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt hash of plain.
func (h *Hasher) Hash(plain string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether plain matches hash. Any bcrypt error, including a
// malformed stored hash, reads as a mismatch.
func (h *Hasher) Verify(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// DummyCompare burns one bcrypt comparison against a throwaway hash. The
// engine calls it when an account lookup misses, flattening the timing
// difference between unknown emails and wrong passwords.
func (h *Hasher) DummyCompare(plain string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(plain))
}

// Cost reports the configured work factor.
func (h *Hasher) Cost() int {
	return h.cost
}
