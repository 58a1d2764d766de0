package users

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialScheme turns a password into its stored form and checks
// candidates against it. Swapping schemes never touches callers.
type CredentialScheme interface {
	Name() string
	Seal(password string) (string, error)
	Match(stored, password string) bool
}

// Plaintext stores passwords verbatim and compares them exactly.
//
// This is the historical behavior of the user file and is kept as the
// default so existing stores keep working. It is a known security gap:
// prefer Bcrypt for new deployments.
type Plaintext struct{}

func (Plaintext) Name() string { return "plain" }

func (Plaintext) Seal(password string) (string, error) { return password, nil }

func (Plaintext) Match(stored, password string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// Bcrypt stores bcrypt hashes.
type Bcrypt struct {
	Cost int // 0 means bcrypt.DefaultCost
}

func (Bcrypt) Name() string { return "bcrypt" }

func (b Bcrypt) Seal(password string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func (Bcrypt) Match(stored, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// SchemeByName resolves a configured scheme name ("plain" or "bcrypt").
func SchemeByName(name string) (CredentialScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain", "plaintext":
		return Plaintext{}, nil
	case "bcrypt":
		return Bcrypt{}, nil
	}
	return nil, fmt.Errorf("unknown credential scheme %q (want plain or bcrypt)", name)
}
