// Package security implements authenticated encryption for bot tokens at
// rest. A BotInstance's Telegram token is never stored in plaintext; the
// Persistence Gateway only ever sees the ciphertext produced here.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidKeyLength is returned when the configured encryption key is not
// exactly chacha20poly1305.KeySize (32) bytes once decoded.
var ErrInvalidKeyLength = errors.New("security: encryption key must decode to 32 bytes")

// ErrDecryptFailed is returned when a ciphertext fails authentication -
// either it was tampered with, or it was encrypted under a different key.
var ErrDecryptFailed = errors.New("security: token ciphertext failed authentication")

// TokenCipher encrypts and decrypts bot tokens with ChaCha20-Poly1305, an
// AEAD construction: every ciphertext carries its own authentication tag,
// so tampering is detected rather than silently decrypted into garbage.
type TokenCipher struct {
	aead   interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
}

// NewTokenCipher builds a TokenCipher from a base64-encoded 32-byte key,
// as supplied via the ENCRYPTION_KEY configuration option.
func NewTokenCipher(base64Key string) (*TokenCipher, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("security: decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeyLength
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("security: construct aead: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// Encrypt returns the authenticated ciphertext for a bot token, encoded as
// base64 (nonce prefix + sealed box) so it can be stored directly in the
// token_ciphertext column.
func (c *TokenCipher) Encrypt(plaintextToken string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintextToken), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt recovers the plaintext bot token from a ciphertext previously
// produced by Encrypt. Returns ErrDecryptFailed if the ciphertext was
// tampered with or produced under a different key.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("security: decode ciphertext: %w", err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrDecryptFailed
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
