// Package codec is the Protocol Codec (spec §4.11): the only place that
// JSON-parses client bytes. It validates the outer frame shape strictly
// and dispatches to a per-type decoder so every other component receives
// typed structures, never a raw map[string]any — grounded in the teacher's
// models.WebSocketMessage envelope + type-switch dispatch in hub.go,
// tightened per spec §9's "parse twice: outer shape, then variant" note.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/whisper2/broker/internal/apperror"
)

// FrameType enumerates every known `type` value in the frame catalog
// (spec §6). Anything else is INVALID_PAYLOAD.
type FrameType string

const (
	TypeRegisterBegin       FrameType = "register_begin"
	TypeRegisterChallenge   FrameType = "register_challenge"
	TypeRegisterProof       FrameType = "register_proof"
	TypeRegisterAck         FrameType = "register_ack"
	TypeSessionRefresh      FrameType = "session_refresh"
	TypeSessionRefreshAck   FrameType = "session_refresh_ack"
	TypeLogout              FrameType = "logout"
	TypeSendMessage         FrameType = "send_message"
	TypeMessageAccepted     FrameType = "message_accepted"
	TypeMessageReceived     FrameType = "message_received"
	TypeDeliveryReceipt     FrameType = "delivery_receipt"
	TypeMessageDelivered    FrameType = "message_delivered"
	TypeFetchPending        FrameType = "fetch_pending"
	TypePendingMessages     FrameType = "pending_messages"
	TypeDeleteMessage       FrameType = "delete_message"
	TypeMessageDeleted      FrameType = "message_deleted"
	TypeGroupCreate         FrameType = "group_create"
	TypeGroupEvent          FrameType = "group_event"
	TypeGroupUpdate         FrameType = "group_update"
	TypeGroupSendMessage    FrameType = "group_send_message"
	TypeGetTurnCredentials  FrameType = "get_turn_credentials"
	TypeTurnCredentials     FrameType = "turn_credentials"
	TypeCallInitiate        FrameType = "call_initiate"
	TypeCallIncoming        FrameType = "call_incoming"
	TypeCallRinging         FrameType = "call_ringing"
	TypeCallAnswer          FrameType = "call_answer"
	TypeCallIceCandidate    FrameType = "call_ice_candidate"
	TypeCallEnd             FrameType = "call_end"
	TypeUpdateTokens        FrameType = "update_tokens"
	TypePresenceUpdate      FrameType = "presence_update"
	TypeTyping              FrameType = "typing"
	TypeTypingNotification  FrameType = "typing_notification"
	TypePing                FrameType = "ping"
	TypePong                FrameType = "pong"
	TypeError               FrameType = "error"
)

// MaxFrameBytes bounds an inbound frame; larger frames fail the outer
// shape check before JSON decoding even runs.
const MaxFrameBytes = 256 * 1024

// Frame is the outer envelope: {type, requestId?, payload}. additionalProperties
// is enforced by Decode, which decodes the outer shape with json.Decoder's
// DisallowUnknownFields.
type Frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// outerShape mirrors Frame but is used to strictly reject unknown top-level
// keys (additionalProperties: false) without affecting Frame's own tags.
type outerShape struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses raw client bytes into a Frame, enforcing the outer shape
// strictly: unknown type -> INVALID_PAYLOAD, unknown top-level fields ->
// INVALID_PAYLOAD, oversized frame -> INVALID_PAYLOAD.
func Decode(raw []byte) (*Frame, error) {
	if len(raw) == 0 || len(raw) > MaxFrameBytes {
		return nil, apperror.New(apperror.InvalidPayload, "frame size out of bounds")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var shape outerShape
	if err := dec.Decode(&shape); err != nil {
		return nil, apperror.Wrap(apperror.InvalidPayload, "malformed frame", err)
	}
	ft := FrameType(shape.Type)
	if !knownType[ft] {
		return nil, apperror.New(apperror.InvalidPayload, fmt.Sprintf("unknown frame type %q", shape.Type))
	}
	return &Frame{Type: ft, RequestID: shape.RequestID, Payload: shape.Payload}, nil
}

// Encode produces the wire bytes for an outgoing frame, echoing requestId
// only when the caller supplied one, per spec §6.
func Encode(frameType FrameType, requestID string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f := Frame{Type: frameType, RequestID: requestID, Payload: body}
	return json.Marshal(f)
}

// DecodePayload strictly unmarshals a frame's payload into dst, rejecting
// any field dst does not declare.
func DecodePayload(f *Frame, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(f.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Wrap(apperror.InvalidPayload, "malformed payload for "+string(f.Type), err)
	}
	return nil
}

var knownType = map[FrameType]bool{
	TypeRegisterBegin: true, TypeRegisterChallenge: true, TypeRegisterProof: true, TypeRegisterAck: true,
	TypeSessionRefresh: true, TypeSessionRefreshAck: true, TypeLogout: true,
	TypeSendMessage: true, TypeMessageAccepted: true, TypeMessageReceived: true,
	TypeDeliveryReceipt: true, TypeMessageDelivered: true, TypeFetchPending: true, TypePendingMessages: true,
	TypeDeleteMessage: true, TypeMessageDeleted: true,
	TypeGroupCreate: true, TypeGroupEvent: true, TypeGroupUpdate: true, TypeGroupSendMessage: true,
	TypeGetTurnCredentials: true, TypeTurnCredentials: true,
	TypeCallInitiate: true, TypeCallIncoming: true, TypeCallRinging: true, TypeCallAnswer: true,
	TypeCallIceCandidate: true, TypeCallEnd: true,
	TypeUpdateTokens: true, TypePresenceUpdate: true, TypeTyping: true, TypeTypingNotification: true,
	TypePing: true, TypePong: true, TypeError: true,
}
