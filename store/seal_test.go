package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealRoundTrip(t *testing.T) {
	plaintext := []byte(`{"identifier":"abc"}`)

	sealed, err := seal("passphrase", plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "identifier")

	opened, err := open("passphrase", sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealUniqueCiphertexts(t *testing.T) {
	plaintext := []byte("same document")

	a, err := seal("passphrase", plaintext)
	require.NoError(t, err)
	b, err := seal("passphrase", plaintext)
	require.NoError(t, err)

	// Fresh salt and nonce per write.
	assert.NotEqual(t, a, b)
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := seal("correct", []byte("doc"))
	require.NoError(t, err)

	_, err = open("incorrect", sealed)
	assert.Error(t, err)
}

func TestOpenTamperedDocument(t *testing.T) {
	sealed, err := seal("passphrase", []byte("doc"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = open("passphrase", sealed)
	assert.Error(t, err)
}

func TestOpenTruncatedDocument(t *testing.T) {
	_, err := open("passphrase", []byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}
