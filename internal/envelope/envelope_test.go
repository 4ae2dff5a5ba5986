package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey(7))
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	plaintext := []byte(`{"transaction_id":"tx-1","amount":10000}`)
	env, err := s.Seal(plaintext, []byte("tx-1"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(env.Nonce) != NonceSize || len(env.Tag) != TagSize {
		t.Fatalf("unexpected nonce/tag sizes: %d/%d", len(env.Nonce), len(env.Tag))
	}
	if bytes.Contains(env.Ciphertext, []byte("amount")) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	got, err := s.Open(env, []byte("tx-1"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("expected %q got %q", plaintext, got)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewSealer(testKey(1))
	a, _ := s.Seal([]byte("same"), nil)
	b, _ := s.Seal([]byte("same"), nil)
	if bytes.Equal(a.Nonce, b.Nonce) {
		t.Fatalf("nonce reused across seals")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	s, _ := NewSealer(testKey(3))
	env, err := s.Seal([]byte("payload under test"), []byte("tx-9"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	flip := func(b []byte, i int) []byte {
		out := append([]byte(nil), b...)
		out[i] ^= 0x01
		return out
	}

	cases := map[string]Envelope{
		"ciphertext": {Nonce: env.Nonce, Tag: env.Tag, Ciphertext: flip(env.Ciphertext, 0)},
		"tag":        {Nonce: env.Nonce, Tag: flip(env.Tag, TagSize-1), Ciphertext: env.Ciphertext},
		"nonce":      {Nonce: flip(env.Nonce, 5), Tag: env.Tag, Ciphertext: env.Ciphertext},
		"short tag":  {Nonce: env.Nonce, Tag: env.Tag[:8], Ciphertext: env.Ciphertext},
	}
	for name, tampered := range cases {
		if _, err := s.Open(tampered, []byte("tx-9")); !errors.Is(err, ErrDecryption) {
			t.Fatalf("%s: expected ErrDecryption, got %v", name, err)
		}
	}

	if _, err := s.Open(env, []byte("tx-10")); !errors.Is(err, ErrDecryption) {
		t.Fatalf("wrong aad: expected ErrDecryption, got %v", err)
	}

	other, _ := NewSealer(testKey(4))
	if _, err := other.Open(env, []byte("tx-9")); !errors.Is(err, ErrDecryption) {
		t.Fatalf("wrong key: expected ErrDecryption, got %v", err)
	}
}

func TestNewSealerRejectsBadKey(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := NewSealer(make([]byte, size)); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key size %d: expected ErrInvalidKey, got %v", size, err)
		}
	}
}
