package security

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestTokenCipher_RoundTrip(t *testing.T) {
	cipher, err := NewTokenCipher(randomKey(t))
	require.NoError(t, err)

	const token = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"
	ciphertext, err := cipher.Encrypt(token)
	require.NoError(t, err)
	assert.NotEqual(t, token, ciphertext)

	got, err := cipher.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestTokenCipher_DifferentKeyFailsAuthentication(t *testing.T) {
	cipher1, err := NewTokenCipher(randomKey(t))
	require.NoError(t, err)
	cipher2, err := NewTokenCipher(randomKey(t))
	require.NoError(t, err)

	ciphertext, err := cipher1.Encrypt("some-token")
	require.NoError(t, err)

	_, err = cipher2.Decrypt(ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestTokenCipher_TamperedCiphertextFailsAuthentication(t *testing.T) {
	cipher, err := NewTokenCipher(randomKey(t))
	require.NoError(t, err)

	ciphertext, err := cipher.Encrypt("some-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = cipher.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewTokenCipher_RejectsWrongKeyLength(t *testing.T) {
	shortKey := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err := NewTokenCipher(shortKey)
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}
