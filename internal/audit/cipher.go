package audit

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecryptFailed indicates a payload could not be authenticated/decrypted.
var ErrDecryptFailed = errors.New("audit: decryption failed")

// Cipher encrypts audit payloads with AES-GCM. Every entry gets a fresh
// random nonce; the store never holds plaintext.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 16-, 24- or 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("audit: key must be 16, 24 or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("audit: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("audit: create gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh nonce. The nonce is returned
// hex-encoded, the ciphertext base64-encoded.
func (c *Cipher) Encrypt(plaintext []byte) (iv, ciphertext string, err error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("audit: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce), base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed payload. Any authentication or encoding failure is
// reported as ErrDecryptFailed so callers can substitute a placeholder.
func (c *Cipher) Decrypt(iv, ciphertext string) ([]byte, error) {
	nonce, err := hex.DecodeString(iv)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
