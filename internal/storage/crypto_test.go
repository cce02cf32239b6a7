package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)

	encoded, err := Encrypt([]byte("token"), key, []byte("row-1"))
	require.NoError(t, err)

	plaintext, err := Decrypt(encoded, key, []byte("row-1"))
	require.NoError(t, err)
	assert.Equal(t, "token", string(plaintext))

	// Ciphertext copied to another row does not decrypt.
	_, err = Decrypt(encoded, key, []byte("row-2"))
	assert.Error(t, err)

	_, err = Decrypt(encoded, bytes.Repeat([]byte{8}, 32), []byte("row-1"))
	assert.Error(t, err)

	_, err = Decrypt("not base64!", key, nil)
	assert.Error(t, err)
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	a, err := Encrypt([]byte("same"), key, nil)
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), key, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("appraiser-salt")
	k1, err := DeriveKey("passphrase", salt)
	require.NoError(t, err)
	assert.Len(t, k1, 32)

	k2, err := DeriveKey("passphrase", salt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	_, err = DeriveKey("", salt)
	assert.Error(t, err)
}
