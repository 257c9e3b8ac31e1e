package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type KeyType string

const (
	USAGE_CONFIG         KeyType = "astra_tenant_usage_config"
	PREVIEW_CONVERSATION KeyType = "astra_preview_conversation"
	TENANT_CONFIG        KeyType = "astra_tenant_config"
	CAPACITY_GLOBAL      KeyType = "astra_capacity_global"
	CAPACITY_TENANT      KeyType = "astra_capacity_tenant"
	RATE_WINDOW          KeyType = "astra_rate_window"
	WORKFLOW_QUEUE       KeyType = "astra_workflow_queue"
	WORKFLOW_DELAYED     KeyType = "astra_workflow_delayed"
)

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

var ErrKeyNotExist = redis.Nil

type RedisServiceInterface interface {
	GenerateKey(keyType KeyType, identifier string) string
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key string, value string, ttl time.Duration) error
	DelValue(ctx context.Context, key string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string, handler func(string)) error
}

type RedisService struct {
	client *redis.Client
}

func NewRedisService(config *RedisConfig) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisService{
		client: client,
	}, nil
}

// Client exposes the underlying client for callers that need primitives this
// wrapper doesn't surface (e.g. Lua scripts).
func (r *RedisService) Client() *redis.Client { return r.client }

// GenerateKey generates a Redis key with the given key type and identifier
func (r *RedisService) GenerateKey(keyType KeyType, identifier string) string {
	return fmt.Sprintf("%s:%s", string(keyType), identifier)
}

// GetValue gets a value from Redis by key
func (r *RedisService) GetValue(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// SetValue sets a value in Redis with TTL
func (r *RedisService) SetValue(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// DelValue deletes a value from Redis by key
func (r *RedisService) DelValue(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Publish publishes a message to a Redis channel
func (r *RedisService) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a Redis channel and handles incoming messages
func (r *RedisService) Subscribe(ctx context.Context, channel string, handler func(string)) error {
	pubsub := r.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for msg := range ch {
			handler(msg.Payload)
		}
	}()

	return nil
}

// Incr increments key by 1, setting ttl on first creation only. Used by the
// Capacity Controller for concurrency counters (spec.md §4.B).
func (r *RedisService) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		r.client.Expire(ctx, key, ttl)
	}
	return n, nil
}

// Decr decrements key by 1, floored at zero so a duplicate release can never
// drive the counter negative (spec.md §4.B idempotent release).
func (r *RedisService) Decr(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		r.client.Set(ctx, key, 0, redis.KeepTTL)
		return 0, nil
	}
	return n, nil
}

// IncrWithLimit atomically increments key and reports whether the resulting
// value exceeds limit, undoing the increment with a separate DECR when it
// does. Reading and incrementing happen in the one INCR, so concurrent
// admission checks can't race between them (spec.md §4.B "Admission is
// atomic").
func (r *RedisService) IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (admitted bool, current int64, err error) {
	n, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 && ttl > 0 {
		r.client.Expire(ctx, key, ttl)
	}
	if n > limit {
		r.client.Decr(ctx, key)
		return false, n - 1, nil
	}
	return true, n, nil
}

// RateWindowIncr increments a per-minute sliding-window counter keyed by the
// current UTC minute bucket, expiring the bucket after two minutes so stale
// buckets never accumulate (spec.md §4.B "per-minute rate window").
func (r *RedisService) RateWindowIncr(ctx context.Context, key string, bucket time.Time) (int64, error) {
	bucketKey := fmt.Sprintf("%s:%d", key, bucket.Truncate(time.Minute).Unix())
	return r.Incr(ctx, bucketKey, 2*time.Minute)
}

// GetCounter reads an integer counter, treating a missing key as zero.
func (r *RedisService) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return val, nil
}

// ZAddJob adds a job payload to a sorted set scored by its not-before time,
// the delayed-retry queue backing the Workflow Engine (spec.md §4.H).
func (r *RedisService) ZAddJob(ctx context.Context, key string, score float64, payload string) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err()
}

// ZPopDueJobs pops up to limit members from a delayed-job sorted set whose
// score is <= now, atomically removing them so no two workers claim the same
// job (spec.md §4.H "at-least-once delivery").
func (r *RedisService) ZPopDueJobs(ctx context.Context, key string, now float64, limit int64) ([]string, error) {
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%f", now),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	pipe := r.client.TxPipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		cmds[i] = pipe.ZRem(ctx, key, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	// Only members this call actually removed are claimed; a concurrent
	// worker that removed one first keeps it.
	claimed := members[:0]
	for i, m := range members {
		if cmds[i].Val() == 1 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}

// LPushJob pushes a ready-to-run job payload onto the immediate work queue.
func (r *RedisService) LPushJob(ctx context.Context, key string, payload string) error {
	return r.client.LPush(ctx, key, payload).Err()
}

// BRPopJob blocks up to timeout for a job payload on the immediate work
// queue, returning ("", nil) on timeout so callers can loop and recheck
// shutdown signals (spec.md §4.J).
func (r *RedisService) BRPopJob(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := r.client.BRPop(ctx, timeout, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// QueueLen reports the number of pending immediate jobs.
func (r *RedisService) QueueLen(ctx context.Context, key string) (int64, error) {
	return r.client.LLen(ctx, key).Result()
}

// PreviewMessage represents a single message in preview conversation history
type PreviewMessage struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // Message content
	Name    string `json:"name,omitempty"`
}

// GetPreviewHistory retrieves preview conversation history from Redis
func (r *RedisService) GetPreviewHistory(ctx context.Context, conversationID string) ([]PreviewMessage, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client not initialized")
	}

	key := r.GenerateKey(PREVIEW_CONVERSATION, conversationID)

	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			// Key doesn't exist, return empty history
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get preview history: %w", err)
	}

	var messages []PreviewMessage
	if err := json.Unmarshal([]byte(val), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preview history: %w", err)
	}

	return messages, nil
}

// AppendPreviewHistory appends new messages to preview conversation history
func (r *RedisService) AppendPreviewHistory(ctx context.Context, conversationID string, newMessages []PreviewMessage, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	key := r.GenerateKey(PREVIEW_CONVERSATION, conversationID)

	// Get existing history
	existingHistory, err := r.GetPreviewHistory(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to get existing history: %w", err)
	}

	// Append new messages
	allMessages := append(existingHistory, newMessages...)

	// Serialize to JSON
	data, err := json.Marshal(allMessages)
	if err != nil {
		return fmt.Errorf("failed to marshal preview history: %w", err)
	}

	// Store with TTL
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set preview history: %w", err)
	}

	return nil
}

// ClearPreviewHistory removes preview conversation history from Redis
func (r *RedisService) ClearPreviewHistory(ctx context.Context, conversationID string) error {
	if r.client == nil {
		return fmt.Errorf("redis client not initialized")
	}

	key := r.GenerateKey(PREVIEW_CONVERSATION, conversationID)
	return r.client.Del(ctx, key).Err()
}
