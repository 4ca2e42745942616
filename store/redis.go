package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisTTL is how long Redis keeps tool state when no TTL is given.
const DefaultRedisTTL = 24 * time.Hour

// Redis stores tool state in Redis under toolstate:<widget>:input and toolstate:<widget>:result,
// so several host processes can share it.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a store on top of client. A non-positive ttl means DefaultRedisTTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// NewRedisFromAddr creates a store with its own client connected to addr.
func NewRedisFromAddr(addr string, ttl time.Duration) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// SaveToolInput implements the host's tool state store.
func (r *Redis) SaveToolInput(ctx context.Context, widgetID string, input json.RawMessage) error {
	if err := r.client.Set(ctx, inputKey(widgetID), []byte(input), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save tool input: %w", err)
	}
	return nil
}

// SaveToolResult implements the host's tool state store.
func (r *Redis) SaveToolResult(ctx context.Context, widgetID string, result json.RawMessage) error {
	if err := r.client.Set(ctx, resultKey(widgetID), []byte(result), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save tool result: %w", err)
	}
	return nil
}

// ToolState implements the host's tool state store.
func (r *Redis) ToolState(ctx context.Context, widgetID string) (json.RawMessage, json.RawMessage, error) {
	values, err := r.client.MGet(ctx, inputKey(widgetID), resultKey(widgetID)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tool state: %w", err)
	}
	return rawValue(values[0]), rawValue(values[1]), nil
}

// rawValue converts an MGet value; missing keys come back as nil.
func rawValue(v any) json.RawMessage {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return json.RawMessage(s)
}

func inputKey(widgetID string) string {
	return "toolstate:" + widgetID + ":input"
}

func resultKey(widgetID string) string {
	return "toolstate:" + widgetID + ":result"
}
