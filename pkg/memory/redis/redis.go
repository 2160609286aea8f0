package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barekit/tabletalk/pkg/llm"
	"github.com/barekit/tabletalk/pkg/memory/consts"
	"github.com/redis/go-redis/v9"
)

// RedisMemory keeps each transcript in a list under "tabletalk:session:{id}".
type RedisMemory struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New creates a RedisMemory. A positive ttl expires idle transcripts.
func New(client redis.UniversalClient, ttl time.Duration) *RedisMemory {
	return &RedisMemory{client: client, ttl: ttl}
}

func key(sessionID string) string {
	return consts.KeyPrefix + sessionID
}

// Append pushes msgs with a single RPUSH inside MULTI/EXEC, refreshing the TTL.
func (m *RedisMemory) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, msg := range msgs {
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values[i] = b
	}

	k := key(sessionID)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, values...)
		if m.ttl > 0 {
			pipe.Expire(ctx, k, m.ttl)
		}
		return nil
	})
	return err
}

// Load loads messages from Redis.
func (m *RedisMemory) Load(ctx context.Context, sessionID string) ([]llm.Message, error) {
	result, err := m.client.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, len(result))
	for i, item := range result {
		var msg llm.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message at index %d: %w", i, err)
		}
		messages[i] = msg
	}

	return messages, nil
}

// Clear deletes the list.
func (m *RedisMemory) Clear(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, key(sessionID)).Err()
}
