package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/audit"
	"github.com/whisper2/broker/internal/call"
	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/gateway"
	"github.com/whisper2/broker/internal/group"
	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/models"
	"github.com/whisper2/broker/internal/push"
	"github.com/whisper2/broker/internal/ratelimit"
	"github.com/whisper2/broker/internal/router"
	"github.com/whisper2/broker/internal/session"
	"github.com/whisper2/broker/internal/signature"
)

// DispatcherDeps are the components a Dispatcher needs to turn a decoded
// frame into an effect. Mirrors Deps, minus the pieces (Store, CORS config)
// that only the REST surface touches directly.
type DispatcherDeps struct {
	Sessions    *session.Manager
	Registry    *gateway.Registry
	Router      *router.Router
	Group       *group.Engine
	Calls       *call.Manager
	Attachments interface {
		GrantAccess(ctx context.Context, objectKey, grantee string) error
	}
	RateLimiter *ratelimit.Limiter
	Audit       *audit.Logger
	PushCoord   *push.Coordinator
	TurnSecret  string
	TurnURLs    []string
}

// Dispatcher is the frame router for the WebSocket transport: the only
// place that turns codec.Frame bytes into calls on the Identity/Session,
// Router, Group, and Call components, grounded in the teacher's
// hub.handleMessage type-switch in internal/websocket/hub.go.
type Dispatcher struct {
	deps DispatcherDeps
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	return &Dispatcher{deps: deps}
}

// Dispatch is the callback handed to gateway.Registry.Accept: it runs on
// the connection's own ReadPump goroutine, so handlers here must not block
// on anything but the store/redis calls they already make.
func (d *Dispatcher) Dispatch(c *gateway.Client, raw []byte) {
	ctx := context.Background()

	frame, err := codec.Decode(raw)
	if err != nil {
		c.SendFrame(codec.TypeError, "", errPayload("", err))
		return
	}

	whisperID, _ := c.Identity()
	limitKey := whisperID
	if limitKey == "" {
		limitKey = fmt.Sprintf("anon:%p", c)
	}
	if d.deps.RateLimiter != nil {
		if err := d.deps.RateLimiter.Allow(ctx, limitKey, string(frame.Type)); err != nil {
			metrics.RecordRateLimitRejection(string(frame.Type))
			c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
			return
		}
	}
	metrics.RecordFrame(string(frame.Type), "inbound")

	switch frame.Type {
	case codec.TypeRegisterBegin:
		d.handleRegisterBegin(ctx, c, frame)
		return
	case codec.TypeRegisterProof:
		d.handleRegisterProof(ctx, c, frame)
		return
	case codec.TypeSessionRefresh:
		d.handleSessionRefresh(c, frame)
		return
	case codec.TypeLogout:
		d.handleLogout(c, frame)
		return
	case codec.TypePing:
		d.handlePing(c, frame)
		return
	case codec.TypePong:
		return
	}

	if whisperID == "" {
		c.SendFrame(codec.TypeError, frame.RequestID,
			errPayload(frame.RequestID, apperror.New(apperror.AuthFailed, "socket has no bound identity")))
		return
	}

	switch frame.Type {
	case codec.TypeSendMessage:
		d.handleSendMessage(ctx, c, whisperID, frame)
	case codec.TypeDeliveryReceipt:
		d.handleDeliveryReceipt(ctx, c, whisperID, frame)
	case codec.TypeFetchPending:
		d.handleFetchPending(ctx, c, whisperID, frame)
	case codec.TypeDeleteMessage:
		d.handleDeleteMessage(ctx, c, whisperID, frame)
	case codec.TypeGroupCreate:
		d.handleGroupCreate(ctx, c, whisperID, frame)
	case codec.TypeGroupUpdate:
		d.handleGroupUpdate(ctx, c, whisperID, frame)
	case codec.TypeGroupSendMessage:
		d.handleGroupSendMessage(ctx, c, whisperID, frame)
	case codec.TypeGetTurnCredentials:
		d.handleGetTurnCredentials(c, whisperID, frame)
	case codec.TypeCallInitiate:
		d.handleCallInitiate(ctx, c, whisperID, frame)
	case codec.TypeCallRinging:
		d.handleCallRinging(ctx, c, whisperID, frame)
	case codec.TypeCallAnswer:
		d.handleCallAnswer(ctx, c, whisperID, frame)
	case codec.TypeCallIceCandidate:
		d.handleCallICE(ctx, c, whisperID, frame)
	case codec.TypeCallEnd:
		d.handleCallEnd(ctx, c, whisperID, frame)
	case codec.TypeUpdateTokens:
		d.handleUpdateTokens(c, whisperID, frame)
	case codec.TypeTyping:
		d.handleTyping(whisperID, frame)
	default:
		c.SendFrame(codec.TypeError, frame.RequestID,
			errPayload(frame.RequestID, apperror.New(apperror.InvalidPayload, "unsupported frame type for a bound socket")))
	}
}

func errPayload(requestID string, err error) codec.ErrorPayload {
	e := apperror.As(err)
	return codec.ErrorPayload{Code: string(e.Code), Message: e.Message, RequestID: requestID}
}

// --- Identity & Session -----------------------------------------------

func (d *Dispatcher) handleRegisterBegin(ctx context.Context, c *gateway.Client, frame *codec.Frame) {
	var p codec.RegisterBeginPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := p.Validate(); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	challengeID, challenge, expiresAt, err := d.deps.Sessions.RegisterBegin(ctx, p.WhisperID)
	if err != nil {
		metrics.RecordRegisterAttempt("begin", false)
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	metrics.RecordRegisterAttempt("begin", true)
	c.SendFrame(codec.TypeRegisterChallenge, frame.RequestID, map[string]any{
		"challengeId": challengeID,
		"challenge":   base64Encode(challenge),
		"expiresAt":   expiresAt.UTC().Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) handleRegisterProof(ctx context.Context, c *gateway.Client, frame *codec.Frame) {
	var p codec.RegisterProofPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := p.Validate(); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	encPub, err := base64Decode(p.EncPublicKey)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, apperror.New(apperror.InvalidPayload, "malformed encPublicKey")))
		return
	}
	signPub, err := base64Decode(p.SignPublicKey)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, apperror.New(apperror.InvalidPayload, "malformed signPublicKey")))
		return
	}
	sig, err := base64Decode(p.Signature)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, apperror.New(apperror.InvalidPayload, "malformed signature")))
		return
	}

	result, err := d.deps.Sessions.RegisterProof(ctx, p.ChallengeID, p.DeviceID, p.Platform, encPub, signPub, sig, p.PushToken, p.VoipToken)
	if err != nil {
		metrics.RecordRegisterAttempt("proof", false)
		if d.deps.Audit != nil {
			d.deps.Audit.Log(audit.EventRegisterProofFailed, p.ChallengeID, err.Error())
		}
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	metrics.RecordRegisterAttempt("proof", true)
	if d.deps.Audit != nil {
		d.deps.Audit.Log(audit.EventRegisterProofOK, result.WhisperID, p.DeviceID)
	}

	d.deps.Registry.Bind(c, result.WhisperID, p.DeviceID)

	c.SendFrame(codec.TypeRegisterAck, frame.RequestID, map[string]any{
		"whisperId":        result.WhisperID,
		"sessionToken":     result.SessionToken,
		"sessionExpiresAt": result.SessionExpiresAt.UTC().Format(time.RFC3339Nano),
		"serverTime":       result.ServerTime.UTC().Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) handleSessionRefresh(c *gateway.Client, frame *codec.Frame) {
	var p codec.SessionRefreshPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	newExpiry, err := d.deps.Sessions.SessionRefresh(p.SessionToken)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	c.SendFrame(codec.TypeSessionRefreshAck, frame.RequestID, map[string]any{
		"sessionExpiresAt": newExpiry.UTC().Format(time.RFC3339Nano),
	})
}

func (d *Dispatcher) handleLogout(c *gateway.Client, frame *codec.Frame) {
	var p codec.LogoutPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := d.deps.Sessions.Logout(p.SessionToken); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
	}
}

func (d *Dispatcher) handlePing(c *gateway.Client, frame *codec.Frame) {
	var p codec.PingPayload
	_ = codec.DecodePayload(frame, &p)
	c.SendFrame(codec.TypePong, frame.RequestID, map[string]any{
		"timestamp":  p.Timestamp,
		"serverTime": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// --- Messaging -----------------------------------------------------------

func (d *Dispatcher) handleSendMessage(ctx context.Context, c *gateway.Client, from string, frame *codec.Frame) {
	var p codec.SendMessagePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := p.Validate(); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := d.deps.Router.SendMessage(ctx, from, p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
	}
}

func (d *Dispatcher) handleDeliveryReceipt(ctx context.Context, c *gateway.Client, from string, frame *codec.Frame) {
	var p codec.DeliveryReceiptPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := p.Validate(); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := d.deps.Router.DeliveryReceipt(ctx, from, p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
	}
}

func (d *Dispatcher) handleFetchPending(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.FetchPendingPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	items, next, err := d.deps.Router.FetchPending(ctx, whisperID, p)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	messages := make([]map[string]any, 0, len(items))
	for _, it := range items {
		messages = append(messages, map[string]any{
			"messageId":  it.MessageID,
			"enqueuedAt": it.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			"payload":    rawJSON(it.Payload),
		})
	}
	resp := map[string]any{"messages": messages}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.SendFrame(codec.TypePendingMessages, frame.RequestID, resp)
}

func (d *Dispatcher) handleDeleteMessage(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.DeleteMessagePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if p.MessageID == "" {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, apperror.New(apperror.InvalidPayload, "messageId is required")))
		return
	}
	recipient, lookupErr := d.deps.Router.EnvelopeRecipient(p.MessageID)
	if err := d.deps.Router.DeleteMessage(p.MessageID, whisperID); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, apperror.New(apperror.NotFound, "message not found")))
		return
	}
	c.SendFrame(codec.TypeMessageDeleted, frame.RequestID, map[string]any{"messageId": p.MessageID})
	if p.DeleteForEveryone && lookupErr == nil && recipient != "" {
		d.deps.Router.NotifyDeleted(ctx, recipient, p.MessageID)
	}
}

// --- Groups ----------------------------------------------------------------

func (d *Dispatcher) handleGroupCreate(ctx context.Context, c *gateway.Client, creator string, frame *codec.Frame) {
	var p codec.GroupCreatePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	g, err := d.deps.Group.Create(ctx, creator, p)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	c.SendFrame(codec.TypeGroupEvent, frame.RequestID, groupPayload(g, "created", creator))
}

func (d *Dispatcher) handleGroupUpdate(ctx context.Context, c *gateway.Client, caller string, frame *codec.Frame) {
	var p codec.GroupUpdatePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	g, err := d.deps.Group.Update(ctx, caller, p)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	c.SendFrame(codec.TypeGroupEvent, frame.RequestID, groupPayload(g, "updated", caller))
}

func (d *Dispatcher) handleGroupSendMessage(ctx context.Context, c *gateway.Client, from string, frame *codec.Frame) {
	var p codec.GroupSendMessagePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := d.deps.Group.SendMessage(ctx, from, p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
	}
}

func groupPayload(g *models.Group, action, actor string) map[string]any {
	return map[string]any{
		"groupId": g.GroupID,
		"title":   g.Title,
		"action":  action,
		"actor":   actor,
		"members": g.ActiveMembers(),
	}
}

// --- Calls -------------------------------------------------------------

func (d *Dispatcher) handleGetTurnCredentials(c *gateway.Client, whisperID string, frame *codec.Frame) {
	creds := call.MintTurnCredentials(d.deps.TurnSecret, whisperID, d.deps.TurnURLs, time.Now())
	c.SendFrame(codec.TypeTurnCredentials, frame.RequestID, creds)
}

// verifyCallSig checks a call-signaling frame's signature against the
// sender's registered signing key, binding the frame to its callId the
// same way router/group canonical forms bind a message to its recipient —
// call payloads carry no timestamp/nonce of their own, so those two
// canonical fields are left empty.
func (d *Dispatcher) verifyCallSig(whisperID string, fields signature.Fields, sigB64 string) error {
	identity, err := d.deps.Sessions.GetIdentity(whisperID)
	if err != nil {
		return apperror.New(apperror.NotRegistered, "caller identity not found")
	}
	sig, err := base64Decode(sigB64)
	if err != nil {
		return apperror.New(apperror.InvalidPayload, "sig must be valid base64")
	}
	return signature.Verify(identity.SignPublicKey, fields, sig)
}

func (d *Dispatcher) handleCallInitiate(ctx context.Context, c *gateway.Client, from string, frame *codec.Frame) {
	var p codec.CallInitiatePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	fields := signature.Fields{MessageType: string(codec.TypeCallInitiate), MessageID: p.CallID, From: from, ToOrGroupID: p.To}
	if err := d.verifyCallSig(from, fields, p.Sig); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	cl, err := d.deps.Calls.Initiate(ctx, p.CallID, from, p.To, p.IsVideo)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	incoming := map[string]any{"callId": cl.CallID, "from": from, "isVideo": cl.IsVideo}
	if !d.deps.Registry.SendFrame(p.To, codec.TypeCallIncoming, "", incoming) {
		if d.deps.PushCoord != nil {
			if err := d.deps.PushCoord.NotifyIncomingCall(ctx, p.To, p.CallID); err != nil {
				log.Printf("[dispatcher] failed to push incoming call to %s: %v", p.To, err)
			}
		}
	}
}

// handleCallRinging implements the callee's `call_ringing` frame (spec
// §4.8: precondition "initiated", forward to caller) — previously missing
// entirely, so a callee's ringing notice hit the default case and the
// server faked it by echoing call_ringing back to the caller from Initiate.
func (d *Dispatcher) handleCallRinging(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.CallFramePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	fields := signature.Fields{MessageType: string(codec.TypeCallRinging), MessageID: p.CallID, From: whisperID, ToOrGroupID: p.CallID}
	if err := d.verifyCallSig(whisperID, fields, p.Sig); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	cl, err := d.deps.Calls.Ring(ctx, p.CallID, whisperID)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	d.deps.Registry.SendFrame(cl.CallerID, codec.TypeCallRinging, "", map[string]any{"callId": cl.CallID})
}

func (d *Dispatcher) handleCallAnswer(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.CallFramePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	fields := signature.Fields{MessageType: string(codec.TypeCallAnswer), MessageID: p.CallID, From: whisperID, ToOrGroupID: p.CallID, Ciphertext: p.Ciphertext}
	if err := d.verifyCallSig(whisperID, fields, p.Sig); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	cl, err := d.deps.Calls.Answer(ctx, p.CallID, whisperID)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	d.deps.Registry.SendFrame(cl.Other(whisperID), codec.TypeCallAnswer, "", map[string]any{
		"callId":     cl.CallID,
		"ciphertext": p.Ciphertext,
	})
}

func (d *Dispatcher) handleCallICE(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.CallFramePayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	fields := signature.Fields{MessageType: string(codec.TypeCallIceCandidate), MessageID: p.CallID, From: whisperID, ToOrGroupID: p.CallID, Ciphertext: p.Ciphertext}
	if err := d.verifyCallSig(whisperID, fields, p.Sig); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	cl, err := d.deps.Calls.RelayICE(ctx, p.CallID, whisperID)
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	d.deps.Registry.SendFrame(cl.Other(whisperID), codec.TypeCallIceCandidate, "", map[string]any{
		"callId":     cl.CallID,
		"ciphertext": p.Ciphertext,
	})
}

func (d *Dispatcher) handleCallEnd(ctx context.Context, c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.CallEndPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	fields := signature.Fields{MessageType: string(codec.TypeCallEnd), MessageID: p.CallID, From: whisperID, ToOrGroupID: p.CallID, Ciphertext: p.Reason}
	if err := d.verifyCallSig(whisperID, fields, p.Sig); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	cl, err := d.deps.Calls.End(ctx, p.CallID, whisperID, models.CallEndReason(p.Reason))
	if err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	payload := map[string]any{"callId": cl.CallID, "reason": cl.EndReason}
	c.SendFrame(codec.TypeCallEnd, frame.RequestID, payload)
	d.deps.Registry.SendFrame(cl.Other(whisperID), codec.TypeCallEnd, "", payload)
}

// --- Presence/misc ----------------------------------------------------------

func (d *Dispatcher) handleUpdateTokens(c *gateway.Client, whisperID string, frame *codec.Frame) {
	var p codec.UpdateTokensPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
		return
	}
	if err := d.deps.Router.UpdateTokens(whisperID, p.PushToken, p.VoipToken); err != nil {
		c.SendFrame(codec.TypeError, frame.RequestID, errPayload(frame.RequestID, err))
	}
}

func (d *Dispatcher) handleTyping(from string, frame *codec.Frame) {
	var p codec.TypingPayload
	if err := codec.DecodePayload(frame, &p); err != nil {
		return
	}
	d.deps.Registry.SendFrame(p.To, codec.TypeTypingNotification, "", map[string]any{
		"from":     from,
		"isTyping": p.IsTyping,
	})
}

func base64Encode(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func base64Decode(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// rawJSON re-parses an already-encoded message_received payload so it
// nests as a JSON object inside pending_messages rather than as an
// escaped string.
func rawJSON(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return string(b)
	}
	return v
}
