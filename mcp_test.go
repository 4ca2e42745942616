package mcpapps_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakePort records every posted message and lets a test deliver inbound messages
// synchronously, the way a real port delivers them from its single goroutine.
type fakePort struct {
	id string

	mu        sync.Mutex
	posted    [][]byte
	postErr   error
	nextID    int
	listeners map[int]mcpapps.MessageListener
	order     []int
}

func newFakePort(id string) *fakePort {
	return &fakePort{
		id:        id,
		listeners: make(map[int]mcpapps.MessageListener),
	}
}

func (p *fakePort) ID() string { return p.id }

func (p *fakePort) PostMessage(_ context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.postErr != nil {
		return p.postErr
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	p.posted = append(p.posted, msg)
	return nil
}

func (p *fakePort) AddMessageListener(l mcpapps.MessageListener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.listeners[id] = l
	p.order = append(p.order, id)

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *fakePort) setPostErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postErr = err
}

func (p *fakePort) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// deliver hands raw to every listener, in registration order.
func (p *fakePort) deliver(raw string) {
	p.mu.Lock()
	var ls []mcpapps.MessageListener
	for _, id := range p.order {
		if l, ok := p.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	p.mu.Unlock()

	for _, l := range ls {
		l([]byte(raw))
	}
}

func (p *fakePort) postedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posted)
}

func (p *fakePort) messages(t *testing.T) []mcpapps.JSONRPCMessage {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]mcpapps.JSONRPCMessage, 0, len(p.posted))
	for _, raw := range p.posted {
		var msg mcpapps.JSONRPCMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

// waitPosted waits until at least n messages were posted and returns them.
func (p *fakePort) waitPosted(t *testing.T, n int) []mcpapps.JSONRPCMessage {
	t.Helper()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.posted) >= n
	}, time.Second, time.Millisecond)
	return p.messages(t)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	bs, err := json.Marshal(v)
	require.NoError(t, err)
	return string(bs)
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
