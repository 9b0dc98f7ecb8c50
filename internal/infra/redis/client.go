package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/squai/internal/core/domain"
)

const defaultAnswerTTL = 24 * time.Hour

// Client caches backend answers in Redis.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.TTL), nil
}

func newClient(rdb *redis.Client, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = defaultAnswerTTL
	}
	return &Client{rdb: rdb, ttl: ttl}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// answerKey derives the cache key from every field that shapes the answer.
func answerKey(q domain.Query) string {
	data, _ := json.Marshal(q)
	sum := sha256.Sum256(data)
	return "squai:answer:" + hex.EncodeToString(sum[:])
}

// GetAnswer returns the cached answer for q, if any.
func (c *Client) GetAnswer(ctx context.Context, q domain.Query) (*domain.Answer, bool, error) {
	val, err := c.rdb.Get(ctx, answerKey(q)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}

	var ans domain.Answer
	if err := json.Unmarshal(val, &ans); err != nil {
		// Unreadable entry, drop it so the next call repopulates.
		_ = c.InvalidateAnswer(ctx, q)
		return nil, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return &ans, true, nil
}

// SetAnswer stores ans for q with the configured TTL.
func (c *Client) SetAnswer(ctx context.Context, q domain.Query, ans *domain.Answer) error {
	data, err := json.Marshal(ans)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := c.rdb.Set(ctx, answerKey(q), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// InvalidateAnswer removes the cached answer for q.
func (c *Client) InvalidateAnswer(ctx context.Context, q domain.Query) error {
	return c.rdb.Del(ctx, answerKey(q)).Err()
}
