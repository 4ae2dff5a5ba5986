// Package signer computes and verifies HMAC-SHA256 digests over canonical
// transaction serializations.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// MinKeySize is the smallest accepted signing key.
const MinKeySize = 32

// ErrWeakKey is returned for keys shorter than MinKeySize.
var ErrWeakKey = errors.New("signing key must be at least 32 bytes")

// Canonical is implemented by values with a stable byte serialization.
type Canonical interface {
	CanonicalBytes() []byte
}

// Signer holds the process-wide signing key.
type Signer struct {
	key []byte
}

// New returns a signer for key.
func New(key []byte) (*Signer, error) {
	if len(key) < MinKeySize {
		return nil, ErrWeakKey
	}
	return &Signer{key: append([]byte(nil), key...)}, nil
}

// Sign returns the digest of v.
func (s *Signer) Sign(v Canonical) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(v.CanonicalBytes())
	return mac.Sum(nil)
}

// Verify reports whether digest matches v, in constant time.
func (s *Signer) Verify(v Canonical, digest []byte) bool {
	return hmac.Equal(s.Sign(v), digest)
}
