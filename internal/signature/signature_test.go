package signature

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_ValidSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	f := Fields{
		MessageType: "send_message",
		MessageID:   "11111111-1111-1111-1111-111111111111",
		From:        "WSP-AAAA-AAAA-AAAA",
		ToOrGroupID: "WSP-BBBB-BBBB-BBBB",
		Timestamp:   "1700000000000",
		Nonce:       "bm9uY2U=",
		Ciphertext:  "Y2lwaGVydGV4dA==",
	}
	digest := sha256.Sum256(Canonical(f))
	sig := ed25519.Sign(priv, digest[:])

	assert.NoError(t, Verify(pub, f, sig))
}

func TestVerify_TamperedFieldFails(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	f := Fields{MessageType: "send_message", MessageID: "m1", From: "WSP-AAAA-AAAA-AAAA",
		ToOrGroupID: "WSP-BBBB-BBBB-BBBB", Timestamp: "1", Nonce: "n", Ciphertext: "c"}
	digest := sha256.Sum256(Canonical(f))
	sig := ed25519.Sign(priv, digest[:])

	tampered := f
	tampered.Ciphertext = "different"
	require.Error(t, Verify(pub, tampered, sig))
}

func TestCanonical_FieldOrderAndSeparators(t *testing.T) {
	f := Fields{MessageType: "t", MessageID: "m", From: "f", ToOrGroupID: "to", Timestamp: "ts", Nonce: "n", Ciphertext: "c"}
	got := string(Canonical(f))
	want := "v1\nt\nm\nf\nto\nts\nn\nc\n"
	assert.Equal(t, want, got)
}

func TestVerifyChallenge(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	challenge := []byte("random-challenge-bytes")
	digest := sha256.Sum256(challenge)
	sig := ed25519.Sign(priv, digest[:])
	assert.NoError(t, VerifyChallenge(pub, challenge, sig))
	assert.Error(t, VerifyChallenge(pub, []byte("other"), sig))
}
