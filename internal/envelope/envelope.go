// Package envelope seals pending transaction payloads with AES-256-GCM.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrInvalidKey is returned when the key is not exactly KeySize bytes.
	ErrInvalidKey = errors.New("envelope key must be 32 bytes")

	// ErrDecryption covers every reason an envelope fails to open: wrong key,
	// tampered ciphertext or tag, mismatched associated data, malformed nonce.
	ErrDecryption = errors.New("envelope decryption failed")
)

// Envelope is the at-rest form of an encrypted payload.
type Envelope struct {
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

// Sealer encrypts and authenticates payloads with a single process-wide key.
type Sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewSealer builds a sealer for the given AES-256 key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Sealer{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext under a fresh random nonce, binding aad to the result.
func (s *Sealer) Seal(plaintext, aad []byte) (Envelope, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - TagSize
	return Envelope{
		Nonce:      nonce,
		Tag:        append([]byte(nil), sealed[split:]...),
		Ciphertext: append([]byte(nil), sealed[:split]...),
	}, nil
}

// Open authenticates and decrypts env. Any failure is reported as ErrDecryption.
func (s *Sealer) Open(env Envelope, aad []byte) ([]byte, error) {
	if len(env.Nonce) != NonceSize || len(env.Tag) != TagSize {
		return nil, ErrDecryption
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+TagSize)
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.Tag...)

	plaintext, err := s.aead.Open(nil, env.Nonce, sealed, aad)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}
