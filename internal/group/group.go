// Package group is the Group Engine (spec §4.5): group_create,
// group_update (membership/role/title changes), and group_send_message
// pairwise fan-out. Grounded in the teacher's group-handling idiom from
// internal/handlers (role checks before mutation) combined with the
// router's deliver-or-queue tiering for each sub-envelope recipient.
package group

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"strconv"

	"github.com/google/uuid"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/models"
	"github.com/whisper2/broker/internal/pending"
	"github.com/whisper2/broker/internal/signature"
	"github.com/whisper2/broker/internal/store"
)

type Gateway interface {
	SendFrame(whisperID string, frameType codec.FrameType, requestID string, payload any) bool
}

type Presence interface {
	Lookup(ctx context.Context, whisperID string) (serverID string, online bool)
	Publish(ctx context.Context, serverID string, frameType codec.FrameType, whisperID string, payload any) error
}

type AttachmentGranter interface {
	GrantAccess(ctx context.Context, objectKey, grantee string) error
}

// Push is the narrow surface the group engine needs from internal/push —
// wake an offline member once their sub-envelope lands in the pending queue.
type Push interface {
	NotifyPending(ctx context.Context, whisperID string) error
}

type Engine struct {
	store    *store.Store
	pending  *pending.Queue
	gateway  Gateway
	presence Presence
	grants   AttachmentGranter
	push     Push
}

func New(st *store.Store, pendingQueue *pending.Queue, gw Gateway, presence Presence, grants AttachmentGranter, pushCoord Push) *Engine {
	return &Engine{store: st, pending: pendingQueue, gateway: gw, presence: presence, grants: grants, push: pushCoord}
}

// Create implements group_create: the caller becomes owner, members are
// added at "member" role, bounded by MaxGroupMembers including the owner.
// Every memberId must be distinct and already registered — spec §4.5 treats
// a duplicate or unknown member as a rejected request, not a silent no-op.
func (e *Engine) Create(ctx context.Context, creator string, p codec.GroupCreatePayload) (*models.Group, error) {
	if p.Title == "" {
		return nil, apperror.New(apperror.InvalidPayload, "title is required")
	}
	if len(p.MemberIDs)+1 > models.MaxGroupMembers {
		return nil, apperror.New(apperror.InvalidPayload, "group exceeds max member count")
	}
	seen := make(map[string]bool, len(p.MemberIDs))
	for _, member := range p.MemberIDs {
		if member == creator || seen[member] {
			return nil, apperror.New(apperror.InvalidPayload, "duplicate member id")
		}
		seen[member] = true
		if _, err := e.store.GetIdentity(member); err != nil {
			return nil, apperror.New(apperror.InvalidPayload, "unknown member id")
		}
	}
	groupID := uuid.New().String()
	if err := e.store.CreateGroup(groupID, p.Title, creator); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to create group", err)
	}
	for _, member := range p.MemberIDs {
		if err := e.store.AddGroupMember(groupID, member, models.RoleMember); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to add member", err)
		}
	}
	g, err := e.store.GetGroup(groupID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to reload group", err)
	}
	e.notifyGroupEvent(ctx, g, "created", creator)
	return g, nil
}

// Update implements group_update: add/remove members, change roles, or
// retitle. Every mutation requires the caller to be an active owner/admin;
// retitling and any role change are reserved for the owner alone (spec
// §4.5), while membership add/remove stay available to admins too.
func (e *Engine) Update(ctx context.Context, caller string, p codec.GroupUpdatePayload) (*models.Group, error) {
	active, role, err := e.store.IsActiveMember(p.GroupID, caller)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "membership lookup failed", err)
	}
	if !active || (role != models.RoleOwner && role != models.RoleAdmin) {
		return nil, apperror.New(apperror.Forbidden, "caller is not an owner or admin")
	}

	g, err := e.store.GetGroup(p.GroupID)
	if err != nil {
		return nil, apperror.New(apperror.NotFound, "group not found")
	}

	if p.Title != "" {
		if role != models.RoleOwner {
			return nil, apperror.New(apperror.Forbidden, "only the owner may change the group title")
		}
		if err := e.store.SetGroupTitle(p.GroupID, p.Title); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to set title", err)
		}
	}

	activeCount := len(g.ActiveMembers())
	for _, add := range p.AddMembers {
		if activeCount >= models.MaxGroupMembers {
			return nil, apperror.New(apperror.InvalidPayload, "group is at max capacity")
		}
		if err := e.store.AddGroupMember(p.GroupID, add, models.RoleMember); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to add member", err)
		}
		activeCount++
	}

	for _, remove := range p.RemoveMembers {
		target := g.Member(remove)
		if target != nil && target.Role == models.RoleOwner {
			return nil, apperror.New(apperror.Forbidden, "cannot remove the owner")
		}
		if err := e.store.RemoveGroupMember(p.GroupID, remove); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to remove member", err)
		}
	}

	for _, rc := range p.RoleChanges {
		if role != models.RoleOwner {
			return nil, apperror.New(apperror.Forbidden, "only the owner may change member roles")
		}
		if models.GroupRole(rc.Role) == models.RoleOwner {
			return nil, apperror.New(apperror.Forbidden, "ownership cannot be assigned by a role change")
		}
		if target := g.Member(rc.WhisperID); target != nil && target.Role == models.RoleOwner {
			return nil, apperror.New(apperror.Forbidden, "cannot change the owner's role")
		}
		if err := e.store.SetGroupMemberRole(p.GroupID, rc.WhisperID, models.GroupRole(rc.Role)); err != nil {
			return nil, apperror.Wrap(apperror.Internal, "failed to set role", err)
		}
	}

	updated, err := e.store.GetGroup(p.GroupID)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to reload group", err)
	}
	e.notifyGroupEvent(ctx, updated, "updated", caller)
	return updated, nil
}

// SendMessage implements group_send_message: the caller must be an active
// member, recipients must exactly cover activeMembers\{from} (no
// missing/extra/stranger), each sub-envelope's signature is verified
// individually against the sender's signing key with groupId standing in
// for "toOrGroupId" in the canonical form, and each sub-envelope is
// delivered/queued exactly like a 1:1 envelope, fanned out pairwise per
// spec's GLOSSARY ("Group Envelope").
func (e *Engine) SendMessage(ctx context.Context, from string, p codec.GroupSendMessagePayload) error {
	active, _, err := e.store.IsActiveMember(p.GroupID, from)
	if err != nil {
		return apperror.Wrap(apperror.Internal, "membership lookup failed", err)
	}
	if !active {
		return apperror.New(apperror.Forbidden, "caller is not a member of this group")
	}

	sender, err := e.store.GetIdentity(from)
	if err != nil {
		return apperror.New(apperror.NotRegistered, "sender identity not found")
	}

	g, err := e.store.GetGroup(p.GroupID)
	if err != nil {
		return apperror.New(apperror.NotFound, "group not found")
	}
	activeMembers := make(map[string]bool, len(g.Members))
	for _, m := range g.ActiveMembers() {
		if m != from {
			activeMembers[m] = true
		}
	}
	if len(p.Recipients) != len(activeMembers) {
		metrics.RecordGroupMessage("rejected")
		return apperror.New(apperror.InvalidPayload, "recipients must exactly cover active members")
	}
	seen := make(map[string]bool, len(p.Recipients))
	for _, sub := range p.Recipients {
		if !activeMembers[sub.To] || seen[sub.To] {
			metrics.RecordGroupMessage("rejected")
			return apperror.New(apperror.InvalidPayload, "recipients must exactly cover active members")
		}
		seen[sub.To] = true
	}

	timestamp := strconv.FormatInt(p.Timestamp, 10)
	for _, sub := range p.Recipients {
		sig, err := decodeSig(sub.Sig)
		if err != nil {
			metrics.RecordGroupMessage("rejected")
			return err
		}
		fields := signature.Fields{
			MessageType: p.MsgType,
			MessageID:   p.MessageID,
			From:        from,
			ToOrGroupID: p.GroupID,
			Timestamp:   timestamp,
			Nonce:       sub.Nonce,
			Ciphertext:  sub.Ciphertext,
		}
		if err := signature.Verify(sender.SignPublicKey, fields, sig); err != nil {
			metrics.RecordGroupMessage("rejected")
			return err
		}
	}

	if p.Attachment != nil && e.grants != nil {
		for _, sub := range p.Recipients {
			if err := e.grants.GrantAccess(ctx, p.Attachment.ObjectKey, sub.To); err != nil {
				return err
			}
		}
	}

	for _, sub := range p.Recipients {
		payload := map[string]any{
			"groupId":    p.GroupID,
			"messageId":  p.MessageID,
			"from":       from,
			"msgType":    p.MsgType,
			"timestamp":  p.Timestamp,
			"nonce":      sub.Nonce,
			"sig":        sub.Sig,
			"ciphertext": sub.Ciphertext,
		}
		if p.Attachment != nil {
			payload["attachment"] = p.Attachment
		}
		e.deliverOne(ctx, sub.To, payload, p.MessageID)
	}

	e.gateway.SendFrame(from, codec.TypeMessageAccepted, "", map[string]any{"messageId": p.MessageID})
	metrics.RecordGroupMessage("accepted")
	metrics.RecordMessageSent("group")
	return nil
}

func (e *Engine) deliverOne(ctx context.Context, to string, payload map[string]any, messageID string) {
	if e.gateway.SendFrame(to, codec.TypeMessageReceived, "", payload) {
		return
	}
	if e.presence != nil {
		if serverID, online := e.presence.Lookup(ctx, to); online {
			if err := e.presence.Publish(ctx, serverID, codec.TypeMessageReceived, to, payload); err == nil {
				return
			}
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[group] failed to marshal pending payload for %s: %v", to, err)
		return
	}
	if _, err := e.pending.Enqueue(ctx, to, messageID, body); err != nil {
		log.Printf("[group] failed to enqueue pending item for %s: %v", to, err)
		return
	}
	if e.push != nil {
		if err := e.push.NotifyPending(ctx, to); err != nil {
			log.Printf("[group] failed to push wake for %s: %v", to, err)
		}
	}
}

// decodeSig mirrors router.decodeSig: accept both standard and
// unpadded-URL-safe base64 since client libraries vary.
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

func (e *Engine) notifyGroupEvent(ctx context.Context, g *models.Group, action, actor string) {
	payload := map[string]any{
		"groupId": g.GroupID,
		"title":   g.Title,
		"action":  action,
		"actor":   actor,
		"members": g.ActiveMembers(),
	}
	for _, m := range g.ActiveMembers() {
		if m == actor {
			continue
		}
		if e.gateway.SendFrame(m, codec.TypeGroupEvent, "", payload) {
			continue
		}
		if e.presence != nil {
			if serverID, online := e.presence.Lookup(ctx, m); online {
				_ = e.presence.Publish(ctx, serverID, codec.TypeGroupEvent, m, payload)
			}
		}
	}
}
