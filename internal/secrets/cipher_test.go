package secrets

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return hex.EncodeToString(make([]byte, 32))
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	ciphertext, err := c.EncryptString("edge-secret-value")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "edge-secret-value")

	plaintext, err := c.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "edge-secret-value", plaintext)
}

func TestCipherRejectsBadKey(t *testing.T) {
	_, err := NewCipher("not-hex")
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCipher("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCipherRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	ciphertext, err := c.EncryptString("value")
	require.NoError(t, err)

	_, err = c.DecryptString(ciphertext[:len(ciphertext)-4] + "AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = c.DecryptString("%%%")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestCipherNoncesDiffer(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := c.EncryptString("same")
	require.NoError(t, err)
	b, err := c.EncryptString("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
