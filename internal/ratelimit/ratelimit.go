// Package ratelimit is the Rate Limiter (spec §4.10): sliding-window
// counters per (whisperId, frameType). Adapted from the teacher's
// internal/middleware/ratelimit.go ZREMRANGEBYSCORE+ZCARD+ZADD idiom,
// collapsed from its multi-tier IP/user/endpoint/global shape down to the
// single (identity, frame type) dimension spec names, since there is no
// HTTP-endpoint concept on the WebSocket transport.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper2/broker/internal/apperror"
	"github.com/whisper2/broker/internal/config"
)

type Limiter struct {
	client  *redis.Client
	cfg     *config.RateLimitConfig
	bypass  bool
}

func New(client *redis.Client, cfg *config.RateLimitConfig, bypass bool) *Limiter {
	return &Limiter{client: client, cfg: cfg, bypass: bypass}
}

// Allow returns apperror.RateLimited when (whisperID, frameType) has
// exceeded its configured window; it is explicitly bypassable via a
// process flag for tests, per spec §4.10.
func (l *Limiter) Allow(ctx context.Context, whisperID, frameType string) error {
	if l.bypass {
		return nil
	}
	limit := l.cfg.Default
	if specific, ok := l.cfg.PerFrameType[frameType]; ok {
		limit = specific
	}

	key := fmt.Sprintf("ratelimit:%s:%s", whisperID, frameType)
	now := time.Now().UnixNano()
	windowStart := now - limit.Window.Nanoseconds()

	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStart)).Err(); err != nil {
		return apperror.Wrap(apperror.Internal, "rate limit store error", err)
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return apperror.Wrap(apperror.Internal, "rate limit store error", err)
	}
	if int(count) >= limit.MaxRequests {
		return apperror.New(apperror.RateLimited, fmt.Sprintf("%s rate limit exceeded", frameType))
	}
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	pipe.Expire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperror.Wrap(apperror.Internal, "rate limit store error", err)
	}
	return nil
}
