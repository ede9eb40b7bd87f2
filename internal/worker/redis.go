package worker

import (
	"context"
	"encoding/json"

	"funchatgo/internal/logger"
	"funchatgo/internal/redis"
)

const redisInvalidateChannel = "funchat:invalidate"

const scopeHistory = "history"

type invalidateMessage struct {
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
	Origin string `json:"origin"`
}

type stateRedis struct {
	client *redis.Client
	origin string
}

func newStateRedis(client *redis.Client, origin string) *stateRedis {
	if client == nil {
		return nil
	}
	return &stateRedis{client: client, origin: origin}
}

// startListener subscribes before returning, then feeds invalidations from
// other instances to handler until ctx is done.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) error {
	if r == nil || handler == nil {
		return nil
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()
	go func() {
		for msg := range pubsub.Channel() {
			var inv invalidateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				logger.Warn("worker invalidation decode failed", "error", err)
				continue
			}
			if inv.Origin == r.origin {
				continue
			}
			handler(inv)
		}
	}()
	return nil
}

// publishInvalidation broadcast invalidate msg
func (r *stateRedis) publishInvalidation(ctx context.Context, userID, scope string) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{UserID: userID, Scope: scope, Origin: r.origin})
	if err != nil {
		logger.Warn("worker invalidation marshal failed", "error", err)
		return
	}
	if err := r.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		logger.Warn("worker publish invalidation failed", "error", err)
	}
}
