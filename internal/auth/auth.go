// Package auth gates feed access with a shared-secret API key. It knows
// nothing about HTTP; the server layer extracts the credential.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var (
	ErrMissingKey = errors.New("API key required")
	ErrInvalidKey = errors.New("Invalid API key")
)

type Authenticator struct {
	keyHash [sha256.Size]byte
}

func New(expectedKey string) *Authenticator {
	return &Authenticator{keyHash: sha256.Sum256([]byte(expectedKey))}
}

// Authenticate checks the provided key. Comparing fixed-length digests keeps
// the comparison constant-time and avoids leaking the key length.
func (a *Authenticator) Authenticate(providedKey string) error {
	if providedKey == "" {
		return ErrMissingKey
	}
	h := sha256.Sum256([]byte(providedKey))
	if subtle.ConstantTimeCompare(h[:], a.keyHash[:]) != 1 {
		return ErrInvalidKey
	}
	return nil
}
