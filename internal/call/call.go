package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/codec"
	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/models"
)

// Gateway is the narrow surface the Call Signaling FSM needs to notify both
// parties when a call is timed out by a use site rather than by the
// caller/callee's own call_end frame.
type Gateway interface {
	SendFrame(whisperID string, frameType codec.FrameType, requestID string, payload any) bool
}

// Manager is the Call Signaling FSM. Call state lives in Redis (not
// process memory) because the caller and callee can land on different
// broker instances; any instance handling a call_* frame needs to read
// and transition the same record. Grounded in internal/session's
// Redis-JSON record pattern (challengeRecord).
type Manager struct {
	redis   *redis.Client
	gateway Gateway
}

func New(redisClient *redis.Client, gw Gateway) *Manager {
	return &Manager{redis: redisClient, gateway: gw}
}

func key(callID string) string { return fmt.Sprintf("call:%s", callID) }

func (m *Manager) save(ctx context.Context, c *models.Call) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ttl := time.Until(c.Deadline())
	if ttl <= 0 {
		ttl = time.Second
	}
	return m.redis.Set(ctx, key(c.CallID), body, ttl).Err()
}

// load reads a call record and actively enforces its deadline (spec §5:
// timeouts are enforced at use sites, never by best-effort sweepers alone)
// — a call found past its deadline is transitioned to ended/timeout and
// both parties are notified right here, rather than waiting on Redis's own
// key TTL to evict the record sometime later.
func (m *Manager) load(ctx context.Context, callID string) (*models.Call, error) {
	raw, err := m.redis.Get(ctx, key(callID)).Bytes()
	if err == redis.Nil {
		return nil, apperror.New(apperror.NotFound, "call not found")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "call lookup failed", err)
	}
	var c models.Call
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "corrupt call record", err)
	}
	if c.State != models.CallEnded && time.Now().After(c.Deadline()) {
		m.expire(ctx, &c)
		return nil, apperror.New(apperror.NotFound, "call not found")
	}
	return &c, nil
}

// expire transitions a call to ended/timeout and notifies both parties.
// Best-effort: a failed notify or persist doesn't change the caller's
// "call not found" outcome, since the call is over either way.
func (m *Manager) expire(ctx context.Context, c *models.Call) {
	c.State = models.CallEnded
	c.EndReason = models.EndReasonTimeout
	if err := m.redis.Set(ctx, key(c.CallID), mustMarshal(c), 30*time.Second).Err(); err != nil {
		log.Printf("[call] failed to persist timeout for %s: %v", c.CallID, err)
	}
	metrics.RecordCallEvent("timeout")
	metrics.RecordCallEndReason(string(models.EndReasonTimeout))
	if m.gateway != nil {
		payload := map[string]any{"callId": c.CallID, "reason": string(models.EndReasonTimeout)}
		m.gateway.SendFrame(c.CallerID, codec.TypeCallEnd, "", payload)
		m.gateway.SendFrame(c.CalleeID, codec.TypeCallEnd, "", payload)
	}
}

// Initiate creates a new call keyed by the caller-supplied callId in the
// "initiated" state (spec §4.8: `call_initiate` precondition is "no
// existing call", and only the callee's own `call_ringing` frame moves it
// to "ringing"). A second initiate for an already-known callId is
// rejected — "no existing call" is a precondition, enforced via Redis
// SetNX so concurrent retries can't race two different call records into
// existence under one id.
func (m *Manager) Initiate(ctx context.Context, callID, callerID, calleeID string, isVideo bool) (*models.Call, error) {
	if callerID == calleeID {
		return nil, apperror.New(apperror.InvalidPayload, "cannot call self")
	}
	c := &models.Call{
		CallID:    callID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		IsVideo:   isVideo,
		State:     models.CallInitiated,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to marshal call", err)
	}
	ok, err := m.redis.SetNX(ctx, key(callID), body, time.Until(c.Deadline())).Result()
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to persist call", err)
	}
	if !ok {
		return nil, apperror.New(apperror.Conflict, "call already exists")
	}
	metrics.RecordCallEvent("initiated")
	return c, nil
}

// Ring transitions an initiated call to ringing. Only the callee may ring,
// per spec §4.8's `call_ringing` row (precondition "initiated").
func (m *Manager) Ring(ctx context.Context, callID, whisperID string) (*models.Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if whisperID != c.CalleeID {
		return nil, apperror.New(apperror.Forbidden, "only the callee may ring")
	}
	if c.State != models.CallInitiated {
		return nil, apperror.New(apperror.Conflict, "call is not awaiting ringing")
	}
	c.State = models.CallRinging
	if err := m.save(ctx, c); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to persist call", err)
	}
	metrics.RecordCallEvent("ringing")
	return c, nil
}

// Answer transitions an initiated or ringing call to connected — spec
// §4.8's `call_answer` precondition is "initiated|ringing" since a callee
// may answer before ever sending its own `call_ringing` frame. Only the
// callee may answer.
func (m *Manager) Answer(ctx context.Context, callID, whisperID string) (*models.Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if whisperID != c.CalleeID {
		return nil, apperror.New(apperror.Forbidden, "only the callee may answer")
	}
	if c.State != models.CallInitiated && c.State != models.CallRinging {
		return nil, apperror.New(apperror.Conflict, "call is not awaiting an answer")
	}
	c.State = models.CallConnected
	if err := m.save(ctx, c); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to persist call", err)
	}
	metrics.RecordCallEvent("answered")
	return c, nil
}

// RelayICE validates that both parties are still party to an active call
// before a candidate is forwarded; it does not change state.
func (m *Manager) RelayICE(ctx context.Context, callID, whisperID string) (*models.Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.Party(whisperID) {
		return nil, apperror.New(apperror.Forbidden, "not a party to this call")
	}
	if c.State == models.CallEnded {
		return nil, apperror.New(apperror.Conflict, "call has ended")
	}
	return c, nil
}

// End transitions a call to ended, recording the reason, and deletes the
// Redis record shortly after so a retried end_call is idempotent.
func (m *Manager) End(ctx context.Context, callID, whisperID string, reason models.CallEndReason) (*models.Call, error) {
	c, err := m.load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.Party(whisperID) {
		return nil, apperror.New(apperror.Forbidden, "not a party to this call")
	}
	c.State = models.CallEnded
	c.EndReason = reason
	if err := m.redis.Set(ctx, key(c.CallID), mustMarshal(c), 30*time.Second).Err(); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to persist call end", err)
	}
	metrics.RecordCallEvent("ended")
	metrics.RecordCallEndReason(string(reason))
	return c, nil
}

// TTLRemaining reports how long callID has left before its Redis-backed
// deadline, for diagnostics/testing.
func (m *Manager) TTLRemaining(ctx context.Context, callID string) (time.Duration, error) {
	return m.redis.TTL(ctx, key(callID)).Result()
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
