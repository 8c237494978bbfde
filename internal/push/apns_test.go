package push

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInvalidToken(t *testing.T) {
	assert.True(t, IsInvalidToken(errors.New("apns responded 410: BadDeviceToken")))
	assert.True(t, IsInvalidToken(errors.New("apns responded 410: Unregistered")))
	assert.True(t, IsInvalidToken(errors.New("apns responded 400: DeviceTokenNotForTopic")))
	assert.False(t, IsInvalidToken(errors.New("apns responded 500: InternalServerError")))
	assert.False(t, IsInvalidToken(nil))
}

func TestWakePayload_NeverCarriesContent(t *testing.T) {
	// Regression guard: the wake payload type must never grow a field that
	// could carry plaintext or ciphertext — only type/reason/id/hint.
	p := WakePayload{Type: "wake", Reason: "message", WhisperID: "WSP-AAAA-BBBB-2345", Hint: "1"}
	assert.Equal(t, "wake", p.Type)
	assert.Equal(t, "message", p.Reason)
	assert.NotContains(t, []string{p.Type, p.Reason, p.WhisperID, p.Hint}, "ciphertext")

	body, err := json.Marshal(p)
	assert.NoError(t, err)
	var fields map[string]any
	assert.NoError(t, json.Unmarshal(body, &fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"type", "reason", "whisperId", "hint"}, keys)
}
