// Package router is the 1:1 Message Router (spec §4.4): verifies the
// canonical-form signature, dedups, persists, and either fans the
// envelope out to a live local/cross-instance socket or parks it in the
// pending queue for at-least-once offline delivery. Grounded in the
// teacher's hub.handleMessage dispatch + inbox fallback in
// internal/websocket/hub.go, re-shaped around typed payloads instead of
// the teacher's single WebSocketMessage envelope.
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/models"
	"github.com/whisper2/broker/internal/pending"
	"github.com/whisper2/broker/internal/session"
	"github.com/whisper2/broker/internal/signature"
	"github.com/whisper2/broker/internal/store"
)

// Gateway is the narrow surface the router needs from internal/gateway —
// deliver to a local socket if one exists, or report that none does.
type Gateway interface {
	SendFrame(whisperID string, frameType codec.FrameType, requestID string, payload any) bool
}

// Presence answers "which server, if any, holds whisperID's socket" for
// cross-instance delivery; implemented by internal/presence.
type Presence interface {
	Lookup(ctx context.Context, whisperID string) (serverID string, online bool)
	Publish(ctx context.Context, serverID string, frameType codec.FrameType, whisperID string, payload any) error
}

type AttachmentGranter interface {
	GrantAccess(ctx context.Context, objectKey, grantee string) error
}

// EventLog is the narrow surface the router needs from internal/eventlog —
// an async, off-request-path record of message lifecycle events for
// downstream analytics/archival. Optional: a nil EventLog just skips it.
type EventLog interface {
	EnqueueSent(ctx context.Context, messageID, from, to, groupID string) error
	EnqueueStatus(ctx context.Context, messageID, status string) error
}

// Push is the narrow surface the router needs from internal/push — wake an
// offline recipient once their envelope lands in the pending queue.
type Push interface {
	NotifyPending(ctx context.Context, whisperID string) error
}

type Router struct {
	store    *store.Store
	pending  *pending.Queue
	sessions *session.Manager
	gateway  Gateway
	presence Presence
	grants   AttachmentGranter
	events   EventLog
	push     Push
}

func New(st *store.Store, pendingQueue *pending.Queue, sessions *session.Manager, gw Gateway, presence Presence, grants AttachmentGranter, events EventLog, pushCoord Push) *Router {
	return &Router{store: st, pending: pendingQueue, sessions: sessions, gateway: gw, presence: presence, grants: grants, events: events, push: pushCoord}
}

// SendMessage implements send_message: verify, dedup, persist, deliver or
// queue, per spec §4.4's at-least-once ordering rules.
func (r *Router) SendMessage(ctx context.Context, from string, p codec.SendMessagePayload) error {
	sender, err := r.sessions.GetIdentity(from)
	if err != nil {
		return apperror.New(apperror.NotRegistered, "sender identity not found")
	}

	seen, err := r.store.SeenRecently(from, p.MessageID)
	if err != nil {
		return apperror.Wrap(apperror.Internal, "dedup check failed", err)
	}
	if seen {
		// Idempotent retry: re-ack without re-verifying or re-delivering.
		r.gateway.SendFrame(from, codec.TypeMessageAccepted, "", map[string]any{"messageId": p.MessageID})
		return nil
	}

	fields := signature.Fields{
		MessageType: p.MsgType,
		MessageID:   p.MessageID,
		From:        from,
		ToOrGroupID: p.To,
		Timestamp:   strconv.FormatInt(p.Timestamp, 10),
		Nonce:       p.Nonce,
		Ciphertext:  p.Ciphertext,
	}
	sig, err := decodeSig(p.Sig)
	if err != nil {
		return err
	}
	if err := signature.Verify(sender.SignPublicKey, fields, sig); err != nil {
		return err
	}

	env := &models.Envelope{
		MessageID:  p.MessageID,
		From:       from,
		To:         p.To,
		MsgType:    p.MsgType,
		Timestamp:  p.Timestamp,
		Nonce:      p.Nonce,
		Ciphertext: p.Ciphertext,
		Sig:        p.Sig,
		ReplyTo:    p.ReplyTo,
	}
	if p.Attachment != nil {
		env.Attachment = &models.Attachment{ObjectKey: p.Attachment.ObjectKey, FileKeyBox: p.Attachment.FileKeyBox}
		if r.grants != nil {
			if err := r.grants.GrantAccess(ctx, p.Attachment.ObjectKey, p.To); err != nil {
				return err
			}
		}
	}

	if err := r.store.SaveEnvelope(env); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to persist envelope", err)
	}
	_ = r.store.RecordContact(from, p.To)

	r.gateway.SendFrame(from, codec.TypeMessageAccepted, "", map[string]any{"messageId": p.MessageID})
	metrics.RecordMessageSent("direct")
	if r.events != nil {
		if err := r.events.EnqueueSent(ctx, p.MessageID, from, p.To, ""); err != nil {
			log.Printf("[router] event log enqueue failed for %s: %v", p.MessageID, err)
		}
	}

	r.deliver(ctx, env)
	return nil
}

// deliver attempts local, then cross-instance, then falls back to the
// pending queue — the three tiers spec §4.4/§4.3 describe.
func (r *Router) deliver(ctx context.Context, env *models.Envelope) {
	receivedPayload := map[string]any{
		"messageId":  env.MessageID,
		"from":       env.From,
		"msgType":    env.MsgType,
		"timestamp":  env.Timestamp,
		"nonce":      env.Nonce,
		"ciphertext": env.Ciphertext,
		"sig":        env.Sig,
	}
	if env.ReplyTo != "" {
		receivedPayload["replyTo"] = env.ReplyTo
	}
	if env.Attachment != nil {
		receivedPayload["attachment"] = env.Attachment
	}

	deliveryStart := time.Now()
	if r.gateway.SendFrame(env.To, codec.TypeMessageReceived, "", receivedPayload) {
		metrics.RecordDeliveryLatency("local", time.Since(deliveryStart))
		return
	}

	if r.presence != nil {
		if serverID, online := r.presence.Lookup(ctx, env.To); online {
			if err := r.presence.Publish(ctx, serverID, codec.TypeMessageReceived, env.To, receivedPayload); err == nil {
				metrics.RecordDeliveryLatency("cross_instance", time.Since(deliveryStart))
				return
			}
			log.Printf("[router] cross-instance publish failed for %s, falling back to pending", env.To)
		}
	}

	body, err := json.Marshal(receivedPayload)
	if err != nil {
		log.Printf("[router] failed to marshal pending payload for %s: %v", env.To, err)
		return
	}
	if _, err := r.pending.Enqueue(ctx, env.To, env.MessageID, body); err != nil {
		log.Printf("[router] failed to enqueue pending item for %s: %v", env.To, err)
		return
	}
	metrics.RecordOfflineQueued()
	metrics.RecordDeliveryLatency("pending", time.Since(deliveryStart))
	if r.push != nil {
		if err := r.push.NotifyPending(ctx, env.To); err != nil {
			log.Printf("[router] failed to push wake for %s: %v", env.To, err)
		}
	}
}

// DeliveryReceipt implements delivery_receipt: verify the receipt's own
// signature and that the caller is actually the envelope's recipient (spec
// §4.4), then mark status and forward the receipt to the original sender if
// they're reachable.
func (r *Router) DeliveryReceipt(ctx context.Context, from string, p codec.DeliveryReceiptPayload) error {
	sender, err := r.store.EnvelopeSender(p.MessageID)
	if err != nil {
		return apperror.New(apperror.NotFound, "message not found")
	}
	recipient, err := r.store.EnvelopeRecipient(p.MessageID)
	if err != nil {
		return apperror.New(apperror.NotFound, "message not found")
	}
	if from != recipient {
		return apperror.New(apperror.Forbidden, "caller is not the envelope recipient")
	}

	recipientIdentity, err := r.sessions.GetIdentity(from)
	if err != nil {
		return apperror.New(apperror.NotRegistered, "recipient identity not found")
	}
	sig, err := decodeSig(p.Sig)
	if err != nil {
		return err
	}
	fields := signature.Fields{
		MessageType: "delivery_receipt",
		MessageID:   p.MessageID,
		From:        from,
		ToOrGroupID: sender,
		Timestamp:   strconv.FormatInt(p.Timestamp, 10),
		Ciphertext:  p.Status,
	}
	if err := signature.Verify(recipientIdentity.SignPublicKey, fields, sig); err != nil {
		return err
	}

	if err := r.store.MarkStatus(p.MessageID, p.Status, time.Now().UTC()); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to record status", err)
	}
	r.pending.Remove(ctx, from, p.MessageID) //nolint:errcheck
	if r.events != nil {
		if err := r.events.EnqueueStatus(ctx, p.MessageID, p.Status); err != nil {
			log.Printf("[router] event log enqueue failed for %s: %v", p.MessageID, err)
		}
	}

	statusPayload := map[string]any{"messageId": p.MessageID, "status": p.Status}
	if r.gateway.SendFrame(sender, codec.TypeMessageDelivered, "", statusPayload) {
		return nil
	}
	if r.presence != nil {
		if serverID, online := r.presence.Lookup(ctx, sender); online {
			return r.presence.Publish(ctx, serverID, codec.TypeMessageDelivered, sender, statusPayload)
		}
	}
	return nil
}

// FetchPending implements fetch_pending: replay queued items for an
// identity that just came online, e.g. after a cold start or reconnect.
func (r *Router) FetchPending(ctx context.Context, whisperID string, p codec.FetchPendingPayload) ([]pending.Item, string, error) {
	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	items, next, err := r.pending.Fetch(ctx, whisperID, p.Cursor, limit)
	if err != nil {
		return nil, "", apperror.Wrap(apperror.Internal, "failed to fetch pending items", err)
	}
	metrics.RecordOfflineDelivered(len(items))
	return items, next, nil
}

// EnvelopeRecipient and DeleteMessage back delete_message: only the
// original sender may request a delete, and deleteForEveryone propagation
// needs to know who else saw the envelope before it's tombstoned.
func (r *Router) EnvelopeRecipient(messageID string) (string, error) {
	return r.store.EnvelopeRecipient(messageID)
}

func (r *Router) DeleteMessage(messageID, requestedBy string) error {
	if err := r.store.DeleteMessage(messageID, requestedBy); err != nil {
		return apperror.New(apperror.NotFound, "message not found")
	}
	return nil
}

// NotifyDeleted forwards message_deleted to a recipient who already has
// (or may have) a copy, best-effort: local socket, then cross-instance,
// with no pending-queue fallback since there's nothing to guarantee here
// beyond "let them know if they're reachable right now".
func (r *Router) NotifyDeleted(ctx context.Context, to, messageID string) {
	payload := map[string]any{"messageId": messageID}
	if r.gateway.SendFrame(to, codec.TypeMessageDeleted, "", payload) {
		return
	}
	if r.presence != nil {
		if serverID, online := r.presence.Lookup(ctx, to); online {
			_ = r.presence.Publish(ctx, serverID, codec.TypeMessageDeleted, to, payload)
		}
	}
}

// UpdateTokens implements update_tokens: replace the active device's push
// and/or VoIP token.
func (r *Router) UpdateTokens(whisperID, pushToken, voipToken string) error {
	if err := r.store.UpdateTokens(whisperID, pushToken, voipToken); err != nil {
		return apperror.Wrap(apperror.Internal, "failed to update tokens", err)
	}
	return nil
}

// decodeSig accepts both standard and unpadded-URL-safe base64 since
// client libraries vary; the canonical form signed is the same either way.
func decodeSig(b64 string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(b64); err == nil {
		return b, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return nil, apperror.New(apperror.InvalidPayload, "sig must be valid base64")
	}
	return b, nil
}
