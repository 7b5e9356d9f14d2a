// Package secrets seals integration client secrets at rest with AES-GCM.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const prefix = "enc:v1:"

// ErrSealed is returned by Open when a sealed value arrives and no key is
// configured, or the key does not match.
var ErrSealed = errors.New("secret is sealed with a different or missing key")

// Sealer encrypts with a key derived from the configured passphrase. With an
// empty passphrase it stores values as-is.
type Sealer struct {
	gcm cipher.AEAD
}

func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return &Sealer{}, nil
	}
	h := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(h[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{gcm: gcm}, nil
}

// Enabled reports whether a key is configured.
func (s *Sealer) Enabled() bool { return s != nil && s.gcm != nil }

// Seal returns the stored form of plain: "enc:v1:" followed by
// base64(0x01 | nonce | ciphertext).
func (s *Sealer) Seal(plain string) (string, error) {
	if !s.Enabled() || plain == "" {
		return plain, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := s.gcm.Seal(nil, nonce, []byte(plain), nil)
	out := make([]byte, 1+len(nonce)+len(ct))
	out[0] = 0x01
	copy(out[1:1+len(nonce)], nonce)
	copy(out[1+len(nonce):], ct)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the sealed prefix are returned
// unchanged, so records written before a key was configured stay readable.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	if !s.Enabled() {
		return "", ErrSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", err
	}
	n := s.gcm.NonceSize()
	if len(raw) < 1+n || raw[0] != 0x01 {
		return "", errors.New("malformed sealed secret")
	}
	plain, err := s.gcm.Open(nil, raw[1:1+n], raw[1+n:], nil)
	if err != nil {
		return "", ErrSealed
	}
	return string(plain), nil
}

// IsSealed reports whether stored carries the sealed prefix.
func IsSealed(stored string) bool { return strings.HasPrefix(stored, prefix) }
