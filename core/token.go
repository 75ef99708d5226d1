package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// tokenSealer mints resolve tokens: an encrypted echo of the resolve id
// and a fingerprint of the assignments, which the caller hands back
// out-of-band to confirm an apply. The key is per-instance
// and never leaves the guest; a token is only ever unsealed by the same
// instance family that minted it.
type tokenSealer struct {
	aead cipher.AEAD
}

func newTokenSealer() (*tokenSealer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &tokenSealer{aead: aead}, nil
}

// Seal encrypts (resolveID, fingerprint) into an opaque token.
func (t *tokenSealer) Seal(resolveID string, fingerprint uint64) ([]byte, error) {
	plain := make([]byte, 8+len(resolveID))
	binary.BigEndian.PutUint64(plain[:8], fingerprint)
	copy(plain[8:], resolveID)

	nonce := make([]byte, t.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return t.aead.Seal(nonce, nonce, plain, nil), nil
}

// Open reverses Seal. It exists for the apply-confirmation path and for
// tests; callers outside this package treat tokens as opaque bytes.
func (t *tokenSealer) Open(token []byte) (resolveID string, fingerprint uint64, err error) {
	ns := t.aead.NonceSize()
	if len(token) < ns {
		return "", 0, ErrMalformedResolveToken
	}
	plain, err := t.aead.Open(nil, token[:ns], token[ns:], nil)
	if err != nil {
		return "", 0, ErrMalformedResolveToken
	}
	if len(plain) < 8 {
		return "", 0, ErrMalformedResolveToken
	}
	return string(plain[8:]), binary.BigEndian.Uint64(plain[:8]), nil
}

// assignmentFingerprint hashes the (flag, variant) pairs of a response so
// a later apply confirmation can detect that it refers to the same
// assignment set.
func assignmentFingerprint(pairs []fingerprintPair) uint64 {
	h := xxhash.New()
	for _, p := range pairs {
		h.WriteString(p.flag)
		h.WriteString("\x00")
		h.WriteString(p.variant)
		h.WriteString("\x00")
	}
	return h.Sum64()
}

type fingerprintPair struct {
	flag, variant string
}
