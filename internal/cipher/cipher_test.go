package cipher

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealOpenRoundtrip(t *testing.T) {
	aead, err := New(randomKey(t))
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	aad := []byte("chunk-id-abc123")

	sealed, err := aead.Seal(plaintext, aad)
	require.NoError(t, err)
	assert.Len(t, sealed.Nonce, NonceSize)

	got, err := aead.Open(sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestOpenFailsWithWrongAAD(t *testing.T) {
	aead, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := aead.Seal([]byte("data"), []byte("aad-a"))
	require.NoError(t, err)

	_, err = aead.Open(sealed, []byte("aad-b"))
	assert.Error(t, err)
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	aead1, err := New(randomKey(t))
	require.NoError(t, err)
	aead2, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := aead1.Seal([]byte("data"), nil)
	require.NoError(t, err)

	_, err = aead2.Open(sealed, nil)
	assert.Error(t, err)
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	aead, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := aead.Seal([]byte("data"), nil)
	require.NoError(t, err)
	sealed.Ciphertext[0] ^= 0xFF

	_, err = aead.Open(sealed, nil)
	assert.Error(t, err)
}

func TestToBytesFromBytesRoundtrip(t *testing.T) {
	aead, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := aead.Seal([]byte("payload"), []byte("aad"))
	require.NoError(t, err)

	wire := sealed.ToBytes()
	parsed, err := FromBytes(wire)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(sealed.Nonce, parsed.Nonce))
	assert.True(t, bytes.Equal(sealed.Ciphertext, parsed.Ciphertext))

	got, err := aead.Open(parsed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestFromBytesRejectsShortInput(t *testing.T) {
	_, err := FromBytes([]byte("short"))
	assert.Error(t, err)
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	_, err := New(make([]byte, 16))
	assert.Error(t, err)
}

func TestEmptyPlaintext(t *testing.T) {
	aead, err := New(randomKey(t))
	require.NoError(t, err)

	sealed, err := aead.Seal([]byte{}, nil)
	require.NoError(t, err)

	got, err := aead.Open(sealed, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
