// Package codec encrypts individual log lines. Encrypted lines carry a
// '+' prefix on disk and on the wire; plain lines are stored as-is, so a
// log can mix both and remain readable after the user enables
// encryption mid-history.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Codec transforms a serialized strategy line before it hits storage or
// the wire.
type Codec interface {
	// Encode returns the storage form of a line, without the '+' prefix.
	Encode(line string) (string, error)
	// Decode reverses Encode.
	Decode(line string) (string, error)
	// Enabled reports whether Encode actually transforms its input.
	// Disabled codecs write plain lines and get no '+' prefix.
	Enabled() bool
}

// Plain is the no-op codec.
type Plain struct{}

func (Plain) Encode(line string) (string, error) { return line, nil }
func (Plain) Decode(line string) (string, error) { return line, nil }
func (Plain) Enabled() bool                      { return false }

// AES encrypts lines with AES-256-GCM. The key is derived from the
// user's passphrase; each line gets a fresh random nonce, prepended to
// the ciphertext, and the result is base64-encoded to stay line-safe.
type AES struct {
	aead cipher.AEAD
}

// NewAES derives a key from the passphrase and returns a ready codec.
func NewAES(passphrase string) (*AES, error) {
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AES{aead: aead}, nil
}

func (c *AES) Enabled() bool { return true }

func (c *AES) Encode(line string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(line), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *AES) Decode(line string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return "", fmt.Errorf("malformed encrypted line: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("encrypted line too short")
	}
	plain, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("cannot decrypt line: %w", err)
	}
	return string(plain), nil
}
