package push

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/whisper2/broker/internal/metrics"
	"github.com/whisper2/broker/internal/store"
)

// Coordinator decides whether an offline identity needs waking and sends
// at most one wake push per recipient and reason per suppressWindow,
// per spec §4.9: a burst of
// pending messages for the same recipient must not fan out into a burst
// of pushes. This coalescing window is net-new — the teacher's
// PushService sends one push per call site with no such suppression.
type Coordinator struct {
	client *Client
	store  *store.Store

	mu         sync.Mutex
	suppressed map[string]time.Time
}

const suppressWindow = 30 * time.Second

func NewCoordinator(client *Client, st *store.Store) *Coordinator {
	return &Coordinator{client: client, store: st, suppressed: make(map[string]time.Time)}
}

// NotifyPending wakes whisperID for a queued message, unless a message
// wake was already sent to it within the last suppressWindow.
func (c *Coordinator) NotifyPending(ctx context.Context, whisperID string) error {
	return c.wake(ctx, whisperID, "message", "", false)
}

// NotifyIncomingCall wakes whisperID via the VoIP channel for an incoming
// call, unless a call wake was already sent to it within the last
// suppressWindow. Call and message wakes are coalesced independently.
func (c *Coordinator) NotifyIncomingCall(ctx context.Context, whisperID, callID string) error {
	return c.wake(ctx, whisperID, "call", callID, true)
}

func (c *Coordinator) wake(ctx context.Context, whisperID, reason, hint string, voip bool) error {
	key := whisperID + "|" + reason
	c.mu.Lock()
	if last, ok := c.suppressed[key]; ok && time.Since(last) < suppressWindow {
		c.mu.Unlock()
		metrics.RecordPushNotification(reason, "suppressed")
		return nil
	}
	c.suppressed[key] = time.Now()
	c.mu.Unlock()
	return c.sendNow(ctx, whisperID, reason, hint, voip)
}

func (c *Coordinator) sendNow(ctx context.Context, whisperID, reason, hint string, voip bool) error {
	binding, err := c.store.GetDeviceBinding(whisperID)
	if err != nil {
		return fmt.Errorf("no device binding for %s: %w", whisperID, err)
	}
	token := binding.PushToken
	if voip {
		token = binding.VoipToken
	}
	if token == "" {
		metrics.RecordPushNotification(reason, "suppressed")
		return nil
	}

	payload := WakePayload{Type: "wake", Reason: reason, WhisperID: whisperID, Hint: hint}
	err = c.client.Send(ctx, token, payload, voip)
	if err != nil {
		metrics.RecordPushNotification(reason, "failed")
		if IsInvalidToken(err) {
			if clearErr := c.store.ClearPushToken(whisperID, voip); clearErr != nil {
				log.Printf("[push] failed to clear invalid token for %s: %v", whisperID, clearErr)
			}
		}
		return err
	}
	metrics.RecordPushNotification(reason, "sent")
	return nil
}
