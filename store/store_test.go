package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryToolState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	input, result, err := m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, input)
	assert.Nil(t, result)

	raw := json.RawMessage(`{"query":"coats"}`)
	require.NoError(t, m.SaveToolInput(ctx, "shop", raw))
	raw[2] = 'X'

	input, result, err = m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"coats"}`, string(input))
	assert.Nil(t, result)

	require.NoError(t, m.SaveToolResult(ctx, "shop", json.RawMessage(`{"total":1}`)))
	require.NoError(t, m.SaveToolResult(ctx, "shop", json.RawMessage(`{"total":2}`)))
	_, result, err = m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":2}`, string(result))

	input, result, err = m.ToolState(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, input)
	assert.Nil(t, result)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	require.NoError(t, m.SaveToolInput(ctx, "shop", json.RawMessage(`{}`)))
	now = now.Add(30 * time.Second)
	require.NoError(t, m.SaveToolResult(ctx, "shop", json.RawMessage(`{}`)))

	input, result, err := m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.NotNil(t, input)
	assert.NotNil(t, result)

	// Each value expires on its own schedule.
	now = now.Add(45 * time.Second)
	input, result, err = m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, input)
	assert.NotNil(t, result)

	now = now.Add(time.Minute)
	_, result, err = m.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "toolstate:shop:input", inputKey("shop"))
	assert.Equal(t, "toolstate:shop:result", resultKey("shop"))
	assert.Nil(t, rawValue(nil))
	assert.Equal(t, json.RawMessage(`{}`), rawValue("{}"))
}

// TestRedisToolState runs against a real server when APPSHOST_TEST_REDIS_ADDR is set.
func TestRedisToolState(t *testing.T) {
	addr := os.Getenv("APPSHOST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("APPSHOST_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	r := NewRedisFromAddr(addr, time.Minute)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(ctx))

	widgetID := uuid.New().String()
	t.Cleanup(func() {
		_ = r.client.Del(context.Background(), inputKey(widgetID), resultKey(widgetID)).Err()
	})

	input, result, err := r.ToolState(ctx, widgetID)
	require.NoError(t, err)
	assert.Nil(t, input)
	assert.Nil(t, result)

	require.NoError(t, r.SaveToolInput(ctx, widgetID, json.RawMessage(`{"query":"coats"}`)))
	require.NoError(t, r.SaveToolResult(ctx, widgetID, json.RawMessage(`{"total":2}`)))

	input, result, err = r.ToolState(ctx, widgetID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"coats"}`, string(input))
	assert.JSONEq(t, `{"total":2}`, string(result))

	ttl, err := r.client.TTL(ctx, inputKey(widgetID)).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}
