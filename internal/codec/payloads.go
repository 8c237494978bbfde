package codec

import (
	"regexp"

	"github.com/whisper2/broker/internal/apperror"
)

// base64ish is intentionally loose (full decode correctness is checked at
// use-sites); it exists to reject obviously-wrong strings before a
// component ever sees them.
var (
	base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/_=-]*$`)
	uuidPattern   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	wspPattern    = regexp.MustCompile(`^WSP-[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`)
)

func requireUUID(field, v string) error {
	if !uuidPattern.MatchString(v) {
		return apperror.New(apperror.InvalidPayload, field+" must be a UUID")
	}
	return nil
}

func requireWSP(field, v string) error {
	if !wspPattern.MatchString(v) {
		return apperror.New(apperror.InvalidPayload, field+" must match WSP-XXXX-XXXX-XXXX")
	}
	return nil
}

func requireBase64(field, v string) error {
	if !base64Pattern.MatchString(v) {
		return apperror.New(apperror.InvalidPayload, field+" must be base64")
	}
	return nil
}

func requireNonEmpty(field, v string) error {
	if v == "" {
		return apperror.New(apperror.InvalidPayload, field+" is required")
	}
	return nil
}

// RegisterBeginPayload is register_begin's payload. WhisperID is optional
// (empty => fresh registration, non-empty => recovery attempt).
type RegisterBeginPayload struct {
	DeviceID  string `json:"deviceId"`
	Platform  string `json:"platform"`
	WhisperID string `json:"whisperId,omitempty"`
}

func (p RegisterBeginPayload) Validate() error {
	if err := requireNonEmpty("deviceId", p.DeviceID); err != nil {
		return err
	}
	if p.Platform != "ios" && p.Platform != "android" {
		return apperror.New(apperror.InvalidPayload, "platform must be ios or android")
	}
	if p.WhisperID != "" {
		return requireWSP("whisperId", p.WhisperID)
	}
	return nil
}

type RegisterProofPayload struct {
	ChallengeID   string `json:"challengeId"`
	DeviceID      string `json:"deviceId"`
	Platform      string `json:"platform"`
	EncPublicKey  string `json:"encPublicKey"`
	SignPublicKey string `json:"signPublicKey"`
	Signature     string `json:"signature"`
	PushToken     string `json:"pushToken,omitempty"`
	VoipToken     string `json:"voipToken,omitempty"`
}

func (p RegisterProofPayload) Validate() error {
	for field, v := range map[string]string{
		"challengeId": p.ChallengeID, "deviceId": p.DeviceID,
		"encPublicKey": p.EncPublicKey, "signPublicKey": p.SignPublicKey, "signature": p.Signature,
	} {
		if err := requireNonEmpty(field, v); err != nil {
			return err
		}
	}
	if p.Platform != "ios" && p.Platform != "android" {
		return apperror.New(apperror.InvalidPayload, "platform must be ios or android")
	}
	for field, v := range map[string]string{
		"encPublicKey": p.EncPublicKey, "signPublicKey": p.SignPublicKey, "signature": p.Signature,
	} {
		if err := requireBase64(field, v); err != nil {
			return err
		}
	}
	return nil
}

type SessionRefreshPayload struct {
	SessionToken string `json:"sessionToken"`
}

type LogoutPayload struct {
	SessionToken string `json:"sessionToken"`
}

type SendMessagePayload struct {
	MessageID  string  `json:"messageId"`
	To         string  `json:"to"`
	MsgType    string  `json:"msgType"`
	Timestamp  int64   `json:"timestamp"`
	Nonce      string  `json:"nonce"`
	Ciphertext string  `json:"ciphertext"`
	Sig        string  `json:"sig"`
	ReplyTo    string  `json:"replyTo,omitempty"`
	Attachment *AttPtr `json:"attachment,omitempty"`
}

type AttPtr struct {
	ObjectKey  string `json:"objectKey"`
	FileKeyBox string `json:"fileKeyBox,omitempty"`
}

func (p SendMessagePayload) Validate() error {
	if err := requireUUID("messageId", p.MessageID); err != nil {
		return err
	}
	if err := requireWSP("to", p.To); err != nil {
		return err
	}
	for field, v := range map[string]string{"nonce": p.Nonce, "ciphertext": p.Ciphertext, "sig": p.Sig} {
		if err := requireNonEmpty(field, v); err != nil {
			return err
		}
		if err := requireBase64(field, v); err != nil {
			return err
		}
	}
	if p.Timestamp <= 0 {
		return apperror.New(apperror.InvalidPayload, "timestamp must be positive")
	}
	return nil
}

type DeliveryReceiptPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"` // delivered | read
	Timestamp int64  `json:"timestamp"`
	Sig       string `json:"sig"`
}

func (p DeliveryReceiptPayload) Validate() error {
	if err := requireUUID("messageId", p.MessageID); err != nil {
		return err
	}
	if p.Status != "delivered" && p.Status != "read" {
		return apperror.New(apperror.InvalidPayload, "status must be delivered or read")
	}
	return requireNonEmpty("sig", p.Sig)
}

type DeleteMessagePayload struct {
	MessageID         string `json:"messageId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

type FetchPendingPayload struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type GroupCreatePayload struct {
	Title      string   `json:"title"`
	MemberIDs  []string `json:"memberIds"`
}

type RoleChange struct {
	WhisperID string `json:"whisperId"`
	Role      string `json:"role"`
}

type GroupUpdatePayload struct {
	GroupID      string       `json:"groupId"`
	AddMembers   []string     `json:"addMembers,omitempty"`
	RemoveMembers []string    `json:"removeMembers,omitempty"`
	Title        string       `json:"title,omitempty"`
	RoleChanges  []RoleChange `json:"roleChanges,omitempty"`
}

type GroupSendMessagePayload struct {
	GroupID    string       `json:"groupId"`
	MessageID  string       `json:"messageId"`
	MsgType    string       `json:"msgType"`
	Timestamp  int64        `json:"timestamp"`
	Recipients []SubEnv     `json:"recipients"`
	Attachment *AttPtr      `json:"attachment,omitempty"`
}

type SubEnv struct {
	To         string `json:"to"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Sig        string `json:"sig"`
}

type CallInitiatePayload struct {
	CallID  string `json:"callId"`
	To      string `json:"to"`
	IsVideo bool   `json:"isVideo"`
	Sig     string `json:"sig"`
}

type CallFramePayload struct {
	CallID     string `json:"callId"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Sig        string `json:"sig"`
}

type CallEndPayload struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
	Sig    string `json:"sig"`
}

type GetTurnCredentialsPayload struct {
	SessionToken string `json:"sessionToken"`
}

type UpdateTokensPayload struct {
	PushToken string `json:"pushToken,omitempty"`
	VoipToken string `json:"voipToken,omitempty"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type TypingPayload struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}
