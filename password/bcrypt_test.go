package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash = %q, want bcrypt format", hash)
	}

	if !h.Verify("correct horse battery staple", hash) {
		t.Error("correct password rejected")
	}
	if h.Verify("wrong password", hash) {
		t.Error("wrong password accepted")
	}
}

func TestVerifyMalformedHashReadsAsMismatch(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, hash := range []string{"", "not-a-hash", "$2a$gibberish"} {
		if h.Verify("anything", hash) {
			t.Errorf("malformed hash %q verified", hash)
		}
	}
}

func TestVerifyAcceptsAnyStoredCost(t *testing.T) {
	// Hashes persisted under an older cost setting keep verifying after a
	// cost bump.
	old, err := bcrypt.GenerateFromPassword([]byte("migrate me"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	h, err := New(10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !h.Verify("migrate me", string(old)) {
		t.Error("hash from a lower cost rejected")
	}
}

func TestNewCostHandling(t *testing.T) {
	h, err := New(0)
	if err != nil {
		t.Fatalf("New(0): %v", err)
	}
	if h.Cost() != DefaultCost {
		t.Errorf("Cost() = %d, want %d", h.Cost(), DefaultCost)
	}

	if _, err := New(bcrypt.MaxCost + 1); err == nil {
		t.Error("excessive cost accepted")
	}
}

func TestDummyCompareDoesNotPanic(t *testing.T) {
	h, err := New(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.DummyCompare("any input at all")
	h.DummyCompare("")
}
