package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/congresssignal/backend/internal/metrics"
	"github.com/congresssignal/backend/pkg/logger"
	"github.com/congresssignal/backend/pkg/utils"
)

// Client caches embedding vectors keyed by content hash, so re-embedding the
// same text (unchanged summaries, repeated profile queries) costs one lookup
// instead of a model call. The cache is strictly optional; every method is a
// no-op safe to call on a nil client.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	logger.Info("Redis cache connected", zap.String("addr", addr))
	return &Client{rdb: rdb, ttl: ttl}, nil
}

func embeddingKey(text string) string {
	return "embedding:" + utils.HashString(text)
}

// GetEmbedding returns the cached vector for text, or nil on a miss. Cache
// errors are logged and treated as misses.
func (c *Client) GetEmbedding(ctx context.Context, text string) []float32 {
	if c == nil {
		return nil
	}

	data, err := c.rdb.Get(ctx, embeddingKey(text)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
		return nil
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		logger.Warn("Embedding cache entry corrupt", zap.Error(err))
		return nil
	}

	metrics.EmbeddingCacheHits.Inc()
	return vector
}

func (c *Client) SetEmbedding(ctx context.Context, text string, vector []float32) {
	if c == nil || len(vector) == 0 {
		return
	}

	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, embeddingKey(text), data, c.ttl).Err(); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
