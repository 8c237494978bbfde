package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper2/broker/internal/models"
)

func TestEncodeDecodeChallengeRoundTrip(t *testing.T) {
	orig := models.Challenge{
		ChallengeID: "c-1",
		WhisperID:   "WSP-AAAA-AAAA-AAAA",
		Challenge:   []byte("thirty-two-bytes-of-randomness!"),
		ExpiresAt:   time.Now().Add(60 * time.Second).Truncate(time.Nanosecond),
	}
	encoded := encodeChallenge(orig)
	decoded, err := decodeChallenge(encoded)
	require.NoError(t, err)
	assert.Equal(t, orig.ChallengeID, decoded.ChallengeID)
	assert.Equal(t, orig.WhisperID, decoded.WhisperID)
	assert.Equal(t, orig.Challenge, decoded.Challenge)
	assert.True(t, orig.ExpiresAt.Equal(decoded.ExpiresAt))
}

func TestBytesEqual(t *testing.T) {
	assert.True(t, bytesEqual([]byte("abc"), []byte("abc")))
	assert.False(t, bytesEqual([]byte("abc"), []byte("abd")))
	assert.False(t, bytesEqual([]byte("abc"), []byte("ab")))
}
