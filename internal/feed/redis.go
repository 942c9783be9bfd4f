package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/trading-arena/internal/metrics"
)

// publishTimeout bounds a single PUBLISH.
const publishTimeout = 250 * time.Millisecond

// RedisClient is the subset of *redis.Client the publisher uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher mirrors session events onto Redis pub/sub. Nothing is
// stored: subscribers only see events published while they listen.
type RedisPublisher struct {
	rdb RedisClient
}

// NewRedisPublisher wraps a Redis client.
func NewRedisPublisher(rdb RedisClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish marshals msg and publishes it on the session's channel.
func (p *RedisPublisher) Publish(ctx context.Context, sessionID string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		metrics.FeedErrors.Inc()
		slog.Error("feed marshal failed", "session", sessionID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, Channel(sessionID), data).Err(); err != nil {
		metrics.FeedErrors.Inc()
		slog.Warn("feed publish failed", "session", sessionID, "err", err)
	}
}
