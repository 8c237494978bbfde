// Package presence is the cross-instance presence directory: which
// broker instance, if any, holds a whisperId's live socket, plus the
// Redis pub/sub fabric used to hand a frame to that instance. Grounded
// in the teacher's internal/pubsub/redis.go connection-registry +
// server-scoped channel pattern (RegisterConnection/PublishToServer),
// narrowed from per-device to the single-active-device model.
package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/codec"
)

const connectionTTL = 2 * time.Minute

type Directory struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *Directory {
	return &Directory{redis: redisClient}
}

func presenceKey(whisperID string) string { return "presence:" + whisperID }

func serverChannel(serverID string) string { return "server-frames:" + serverID }

// SetOnline implements gateway.PresenceNotifier: records which server
// instance currently holds whisperID's socket, or clears the record.
func (d *Directory) SetOnline(whisperID, serverID string, online bool) {
	ctx := context.Background()
	if online {
		if err := d.redis.Set(ctx, presenceKey(whisperID), serverID, connectionTTL).Err(); err != nil {
			log.Printf("[presence] failed to set online for %s: %v", whisperID, err)
		}
		return
	}
	if err := d.redis.Del(ctx, presenceKey(whisperID)).Err(); err != nil {
		log.Printf("[presence] failed to clear presence for %s: %v", whisperID, err)
	}
}

// Lookup answers "which server, if any, holds whisperID's socket".
func (d *Directory) Lookup(ctx context.Context, whisperID string) (serverID string, online bool) {
	v, err := d.redis.Get(ctx, presenceKey(whisperID)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("[presence] lookup failed for %s: %v", whisperID, err)
		return "", false
	}
	return v, true
}

type relayedFrame struct {
	FrameType codec.FrameType `json:"frameType"`
	WhisperID string          `json:"whisperId"`
	Payload   json.RawMessage `json:"payload"`
}

// Publish hands a frame to the instance identified by serverID via a
// per-server Redis channel, mirroring the teacher's PublishToServer.
func (d *Directory) Publish(ctx context.Context, serverID string, frameType codec.FrameType, whisperID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(relayedFrame{FrameType: frameType, WhisperID: whisperID, Payload: body})
	if err != nil {
		return err
	}
	return d.redis.Publish(ctx, serverChannel(serverID), msg).Err()
}

// Subscribe listens on this instance's channel and invokes deliver for
// each relayed frame — the inverse side of Publish, run once at startup.
func (d *Directory) Subscribe(ctx context.Context, serverID string, deliver func(whisperID string, frameType codec.FrameType, payload json.RawMessage)) {
	sub := d.redis.Subscribe(ctx, serverChannel(serverID))
	ch := sub.Channel()
	go func() {
		for msg := range ch {
			var rf relayedFrame
			if err := json.Unmarshal([]byte(msg.Payload), &rf); err != nil {
				log.Printf("[presence] malformed relayed frame: %v", err)
				continue
			}
			deliver(rf.WhisperID, rf.FrameType, rf.Payload)
		}
	}()
}
