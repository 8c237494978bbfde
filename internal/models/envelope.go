package models

import "time"

// Attachment is an optional back-reference carried inside an envelope; the
// ciphertext and fileKeyBox never cross the server's understanding, only
// the objectKey does; fileKeyBox is carried through opaque.
type Attachment struct {
	ObjectKey  string `json:"objectKey"`
	FileKeyBox string `json:"fileKeyBox,omitempty"`
}

// Reaction is an opaque-to-the-server per-message emoji reaction reference;
// the server never interprets it, only stores and forwards it verbatim.
type Reaction struct {
	From      string `json:"from"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

// Envelope is a 1:1 message, §3 "Envelope (1:1 Message)". Ciphertext is
// opaque; everything else is a server-observable header used for routing,
// dedup, and signature verification.
type Envelope struct {
	MessageID  string      `json:"messageId"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	MsgType    string      `json:"msgType"`
	Timestamp  int64       `json:"timestamp"`
	Nonce      string      `json:"nonce"` // base64, 24 bytes decoded
	Ciphertext string      `json:"ciphertext"`
	Sig        string      `json:"sig"` // base64 Ed25519 signature
	ReplyTo    string      `json:"replyTo,omitempty"`
	Reactions  []Reaction  `json:"reactions,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`

	PersistedAt time.Time `json:"-"`
}

// SubEnvelope is one recipient's slice of a GroupEnvelope — pairwise fanout,
// per spec's GLOSSARY: the sender encrypts separately for each recipient.
type SubEnvelope struct {
	To         string `json:"to"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Sig        string `json:"sig"`
}

// GroupEnvelope is §3 "Group Envelope": one groupId+messageId+timestamp
// paired with one sub-envelope per active member (sender excluded).
type GroupEnvelope struct {
	GroupID     string        `json:"groupId"`
	MessageID   string        `json:"messageId"`
	From        string        `json:"from"`
	MsgType     string        `json:"msgType"`
	Timestamp   int64         `json:"timestamp"`
	SubEnvelope []SubEnvelope `json:"subEnvelopes"`
	Attachment  *Attachment   `json:"attachment,omitempty"`
}

// PendingItem is §3 "Pending Item": an (recipientId, messageId)-keyed
// durable queue entry, ordered per recipient by EnqueuedAt.
type PendingItem struct {
	RecipientID string
	MessageID   string
	EnqueuedAt  time.Time
	Envelope    []byte // the exact bytes of the message_received payload to replay
}
