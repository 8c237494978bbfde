package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ValidFrame(t *testing.T) {
	raw := []byte(`{"type":"ping","requestId":"r1","payload":{}}`)
	f, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypePing, f.Type)
	assert.Equal(t, "r1", f.RequestID)
}

func TestDecode_UnknownType(t *testing.T) {
	raw := []byte(`{"type":"not_a_real_type","payload":{}}`)
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecode_UnknownTopLevelField(t *testing.T) {
	raw := []byte(`{"type":"ping","payload":{},"extra":"nope"}`)
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecode_OversizedFrameRejected(t *testing.T) {
	big := make([]byte, MaxFrameBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := Decode(big)
	require.Error(t, err)
}

func TestDecode_EmptyFrameRejected(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestEncode_RoundTrips(t *testing.T) {
	body, err := Encode(TypeMessageAccepted, "req-1", map[string]string{"messageId": "abc"})
	require.NoError(t, err)

	f, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, TypeMessageAccepted, f.Type)
	assert.Equal(t, "req-1", f.RequestID)

	var payload map[string]string
	require.NoError(t, DecodePayload(f, &payload))
	assert.Equal(t, "abc", payload["messageId"])
}

func TestDecodePayload_RejectsUnknownField(t *testing.T) {
	f := &Frame{Type: TypePing, Payload: []byte(`{"unexpected":"field"}`)}
	var dst PingPayload
	require.Error(t, DecodePayload(f, &dst))
}

func TestRegisterBeginPayload_Validate(t *testing.T) {
	valid := RegisterBeginPayload{DeviceID: "dev-1", Platform: "ios"}
	assert.NoError(t, valid.Validate())

	badPlatform := RegisterBeginPayload{DeviceID: "dev-1", Platform: "windows"}
	assert.Error(t, badPlatform.Validate())

	missingDevice := RegisterBeginPayload{Platform: "ios"}
	assert.Error(t, missingDevice.Validate())

	badRecoveryID := RegisterBeginPayload{DeviceID: "dev-1", Platform: "ios", WhisperID: "not-a-whisper-id"}
	assert.Error(t, badRecoveryID.Validate())
}

func TestSendMessagePayload_Validate(t *testing.T) {
	valid := SendMessagePayload{
		MessageID:  "11111111-1111-1111-1111-111111111111",
		To:         "WSP-AAAA-AAAA-AAAA",
		MsgType:    "text",
		Timestamp:  1700000000000,
		Nonce:      "bm9uY2U=",
		Ciphertext: "Y2lwaGVydGV4dA==",
		Sig:        "c2ln",
	}
	assert.NoError(t, valid.Validate())

	badTo := valid
	badTo.To = "not-a-whisper-id"
	assert.Error(t, badTo.Validate())

	badTimestamp := valid
	badTimestamp.Timestamp = 0
	assert.Error(t, badTimestamp.Validate())

	badMessageID := valid
	badMessageID.MessageID = "not-a-uuid"
	assert.Error(t, badMessageID.Validate())
}

func TestDeliveryReceiptPayload_Validate(t *testing.T) {
	valid := DeliveryReceiptPayload{MessageID: "11111111-1111-1111-1111-111111111111", Status: "delivered", Sig: "c2ln"}
	assert.NoError(t, valid.Validate())

	badStatus := valid
	badStatus.Status = "seen"
	assert.Error(t, badStatus.Validate())

	missingSig := valid
	missingSig.Sig = ""
	assert.Error(t, missingSig.Validate())
}
