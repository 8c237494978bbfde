// Package eventlog is an async, at-least-once event stream for message
// lifecycle events (sent/delivered/read/archived) consumed by downstream
// analytics/archival workers — entirely out of the request path. Adapted
// from the teacher's internal/queue/message_queue.go Redis Streams wrapper,
// re-keyed from UUID sender/receiver fields to whisperId strings and with
// group_id support since this system's groups are first-class.
package eventlog

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Event struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	GroupID   string    `json:"groupId,omitempty"`
	EventType string    `json:"eventType"` // sent | delivered | read | archived
	At        time.Time `json:"at"`
}

type Stream struct {
	client    *redis.Client
	streamKey string
}

func New(client *redis.Client) *Stream {
	return &Stream{client: client, streamKey: "message_events"}
}

func (s *Stream) Enqueue(ctx context.Context, e Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().UnixNano(),
		},
	}).Result()
}

func (s *Stream) EnqueueSent(ctx context.Context, messageID, from, to, groupID string) error {
	_, err := s.Enqueue(ctx, Event{MessageID: messageID, From: from, To: to, GroupID: groupID, EventType: "sent", At: time.Now().UTC()})
	return err
}

func (s *Stream) EnqueueStatus(ctx context.Context, messageID, status string) error {
	_, err := s.Enqueue(ctx, Event{MessageID: messageID, EventType: status, At: time.Now().UTC()})
	return err
}

// StartConsumer runs a consumer-group reader, invoking handler for each
// event and acking on success; failures are logged and left unacked so a
// redelivery (via XPendingExt/XClaim in an ops tool) can retry them.
func (s *Stream) StartConsumer(ctx context.Context, consumerGroup, consumerName string, handler func(Event) error) {
	s.client.XGroupCreateMkStream(ctx, s.streamKey, consumerGroup, "0")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerName,
			Streams:  []string{s.streamKey, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err != redis.Nil {
				log.Printf("[eventlog] read error: %v", err)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				raw, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var e Event
				if err := json.Unmarshal([]byte(raw), &e); err != nil {
					log.Printf("[eventlog] malformed event: %v", err)
					continue
				}
				if err := handler(e); err != nil {
					log.Printf("[eventlog] handler failed for %s: %v", e.MessageID, err)
					continue
				}
				s.client.XAck(ctx, s.streamKey, consumerGroup, msg.ID)
			}
		}
	}
}

func (s *Stream) Length(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, s.streamKey).Result()
}
