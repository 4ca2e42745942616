package mcpapps_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDeliversInOrder(t *testing.T) {
	a, b := mcpapps.NewPipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	assert.NotEqual(t, a.ID(), b.ID())

	var mu sync.Mutex
	var got []string
	b.AddMessageListener(func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
	})

	ctx := testContext(t)
	want := make([]string, 0, 50)
	for i := range 50 {
		msg := fmt.Sprintf(`{"n":%d}`, i)
		want = append(want, msg)
		require.NoError(t, a.PostMessage(ctx, []byte(msg)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestPipeCopiesMessages(t *testing.T) {
	a, b := mcpapps.NewPipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	received := make(chan string, 1)
	b.AddMessageListener(func(data []byte) {
		received <- string(data)
	})

	data := []byte(`{"a":1}`)
	require.NoError(t, a.PostMessage(testContext(t), data))
	data[2] = 'b'

	select {
	case msg := <-received:
		assert.Equal(t, `{"a":1}`, msg)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestPipeListenerRemoval(t *testing.T) {
	a, b := mcpapps.NewPipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	first := make(chan string, 2)
	second := make(chan string, 2)
	remove := b.AddMessageListener(func(data []byte) { first <- string(data) })
	b.AddMessageListener(func(data []byte) { second <- string(data) })

	ctx := testContext(t)
	require.NoError(t, a.PostMessage(ctx, []byte(`1`)))
	assert.Equal(t, "1", <-first)
	assert.Equal(t, "1", <-second)

	remove()
	remove()
	require.NoError(t, a.PostMessage(ctx, []byte(`2`)))
	assert.Equal(t, "2", <-second)
	assert.Empty(t, first)
}

func TestPipeClose(t *testing.T) {
	a, b := mcpapps.NewPipe()
	ctx := testContext(t)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.ErrorIs(t, a.PostMessage(ctx, []byte(`{}`)), mcpapps.ErrPortClosed)
	require.ErrorIs(t, b.PostMessage(ctx, []byte(`{}`)), mcpapps.ErrPortClosed)
	require.NoError(t, a.Close())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	c, d := mcpapps.NewPipe()
	t.Cleanup(func() {
		_ = c.Close()
		_ = d.Close()
	})
	require.ErrorIs(t, c.PostMessage(cancelled, []byte(`{}`)), context.Canceled)
}
