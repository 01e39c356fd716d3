package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestKeyring_SealOpenRoundTrip(t *testing.T) {
	k, err := NewKeyring(testKey(7))
	require.NoError(t, err)

	sealed, err := k.Seal("contraseña-fiel")
	require.NoError(t, err)
	assert.NotContains(t, sealed.Ciphertext, "contraseña")
	assert.NotEmpty(t, sealed.WrappedKey)

	plain, err := k.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "contraseña-fiel", plain)
}

func TestKeyring_FreshDataKeyPerSeal(t *testing.T) {
	k, err := NewKeyring(testKey(1))
	require.NoError(t, err)

	a, err := k.Seal("same")
	require.NoError(t, err)
	b, err := k.Seal("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
	assert.NotEqual(t, a.WrappedKey, b.WrappedKey)
}

func TestKeyring_WrongMasterKey(t *testing.T) {
	k1, err := NewKeyring(testKey(1))
	require.NoError(t, err)
	k2, err := NewKeyring(testKey(2))
	require.NoError(t, err)

	sealed, err := k1.Seal("secret")
	require.NoError(t, err)

	_, err = k2.Open(sealed)
	assert.Error(t, err)
}

func TestKeyring_Disabled(t *testing.T) {
	k, err := NewKeyring(nil)
	require.NoError(t, err)
	assert.False(t, k.Enabled())

	_, err = k.Seal("x")
	assert.ErrorIs(t, err, ErrMasterKeyNotSet)

	_, err = k.Open(Sealed{})
	assert.ErrorIs(t, err, ErrMasterKeyNotSet)
}

func TestNewKeyring_RejectsShortKey(t *testing.T) {
	_, err := NewKeyring([]byte("short"))
	assert.Error(t, err)
}
