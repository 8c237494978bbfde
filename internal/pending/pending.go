// Package pending is the Pending Queue (spec §4.6): a per-recipient FIFO
// ordered by enqueuedAt, drained only by a delivered/read receipt, never
// by a mere fetch — a network flap must never lose an undelivered
// message. Adapted from the teacher's internal/inbox/redis_inbox.go ZSET
// idiom (score = enqueue timestamp), re-keyed to whisperId and made
// idempotent on (recipientId, messageId) per spec.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/metrics"
)

type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Item is the durable record; Payload is the exact message_received frame
// bytes to replay on fetch_pending, so the router never has to
// reconstruct the wire form from stored fields.
type Item struct {
	MessageID  string    `json:"messageId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Payload    []byte    `json:"payload"`
}

func key(recipientID string) string { return fmt.Sprintf("pending:%s", recipientID) }

// Enqueue is idempotent on (recipientID, messageID): ZADD GT/NX semantics
// aren't enough since the member string embeds the message, so idempotence
// is enforced by a parallel per-message marker set consulted before insert.
func (q *Queue) Enqueue(ctx context.Context, recipientID, messageID string, payload []byte) (countAfter int64, err error) {
	markerKey := fmt.Sprintf("pending-seen:%s:%s", recipientID, messageID)
	set, err := q.client.SetNX(ctx, markerKey, "1", 30*24*time.Hour).Result()
	if err != nil {
		return 0, err
	}
	if !set {
		return q.client.ZCard(ctx, key(recipientID)).Result()
	}

	item := Item{MessageID: messageID, EnqueuedAt: time.Now().UTC(), Payload: payload}
	data, err := json.Marshal(item)
	if err != nil {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, key(recipientID), redis.Z{Score: float64(item.EnqueuedAt.UnixNano()), Member: data})
	card := pipe.ZCard(ctx, key(recipientID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	metrics.PendingQueueDepth.WithLabelValues(recipientID).Set(float64(card.Val()))
	return card.Val(), nil
}

// Fetch returns a cursor-paginated page ordered by enqueuedAt. The cursor
// is the last-seen score as a string; fetch never removes entries.
func (q *Queue) Fetch(ctx context.Context, recipientID, cursor string, limit int) (items []Item, nextCursor string, err error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	min := "-inf"
	if cursor != "" {
		min = "(" + cursor
	}
	raw, err := q.client.ZRangeByScoreWithScores(ctx, key(recipientID), &redis.ZRangeBy{
		Min: min, Max: "+inf", Offset: 0, Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, "", err
	}
	items = make([]Item, 0, len(raw))
	for _, z := range raw {
		var it Item
		if err := json.Unmarshal([]byte(z.Member.(string)), &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	if len(raw) > 0 {
		nextCursor = fmt.Sprintf("%v", raw[len(raw)-1].Score)
	}
	return items, nextCursor, nil
}

// Remove drains exactly the entries matching messageID — "first receipt
// wins" is enforced by the caller checking envelope status before calling
// Remove a second time, not by this method (it is idempotent either way).
func (q *Queue) Remove(ctx context.Context, recipientID, messageID string) error {
	raw, err := q.client.ZRange(ctx, key(recipientID), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, member := range raw {
		var it Item
		if err := json.Unmarshal([]byte(member), &it); err != nil {
			continue
		}
		if it.MessageID == messageID {
			if err := q.client.ZRem(ctx, key(recipientID), member).Err(); err != nil {
				return err
			}
			if count, err := q.Count(ctx, recipientID); err == nil {
				metrics.PendingQueueDepth.WithLabelValues(recipientID).Set(float64(count))
			}
			return nil
		}
	}
	return nil
}

func (q *Queue) Count(ctx context.Context, recipientID string) (int64, error) {
	return q.client.ZCard(ctx, key(recipientID)).Result()
}
