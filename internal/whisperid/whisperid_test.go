package whisperid

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValid(t *testing.T) {
	assert.True(t, Valid("WSP-AAAA-BBBB-2345"))
	assert.False(t, Valid("WSP-AAAA-BBBB-2341")) // '1' not in alphabet
	assert.False(t, Valid("wsp-aaaa-bbbb-2345"))
	assert.False(t, Valid("WSP-AAA-BBBB-2345"))
	assert.False(t, Valid(""))
}

func TestFromSignPublicKey_DeterministicAndValid(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	id1 := FromSignPublicKey(pub)
	id2 := FromSignPublicKey(pub)
	assert.Equal(t, id1, id2, "derivation must be deterministic for the same key")
	assert.True(t, Valid(id1))
}

func TestFromSignPublicKey_DifferentKeysDifferentIDs(t *testing.T) {
	pub1, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pub2, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	assert.NotEqual(t, FromSignPublicKey(pub1), FromSignPublicKey(pub2))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("WSP-AAAA-BBBB-2345"))
	assert.Error(t, Validate("garbage"))
}
