package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePayloadKey_Deterministic(t *testing.T) {
	seed := []byte("0123456789abcdef0123456789abcdef")
	salt := []byte("journalsync/payload")

	k1 := DerivePayloadKey(seed, salt)
	k2 := DerivePayloadKey(seed, salt)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3 := DerivePayloadKey(seed, []byte("other purpose"))
	assert.NotEqual(t, k1, k3)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	key := DerivePayloadKey([]byte("seed"), []byte("salt"))
	plaintext := []byte(`{"title":"note"}`)

	sealed, err := Seal(plaintext, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	out, err := Open(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestOpen_WrongKeyFails(t *testing.T) {
	key := DerivePayloadKey([]byte("seed"), []byte("salt"))
	sealed, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	other := DerivePayloadKey([]byte("other"), []byte("salt"))
	_, err = Open(sealed, other)
	assert.Error(t, err)
}

func TestOpen_TruncatedCiphertext(t *testing.T) {
	key := DerivePayloadKey([]byte("seed"), []byte("salt"))
	_, err := Open([]byte{1, 2, 3}, key)
	assert.Error(t, err)
}

func TestMakeVerifier_StableAndDistinct(t *testing.T) {
	a := MakeVerifier([]byte("key-a"))
	b := MakeVerifier([]byte("key-a"))
	c := MakeVerifier([]byte("key-b"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
