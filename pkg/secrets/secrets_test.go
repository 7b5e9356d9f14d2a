package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := s.Seal("client-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "enc:v1:"))
	assert.NotContains(t, sealed, "client-secret")

	again, _ := s.Seal("client-secret")
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "client-secret", plain)
}

func TestSealer_WrongKey(t *testing.T) {
	a, _ := NewSealer("key-a")
	b, _ := NewSealer("key-b")
	sealed, _ := a.Seal("x")

	_, err := b.Open(sealed)
	assert.ErrorIs(t, err, ErrSealed)

	none, _ := NewSealer("")
	_, err = none.Open(sealed)
	assert.ErrorIs(t, err, ErrSealed)
}

func TestSealer_Passthrough(t *testing.T) {
	none, _ := NewSealer("")
	v, err := none.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	keyed, _ := NewSealer("k")
	v, err = keyed.Open("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", v)
}
