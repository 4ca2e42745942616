package mcpapps_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseFixture struct {
	server     *mcpapps.SSEServer
	httpServer *httptest.Server
	handlers   *recordingHandlers

	mu    sync.Mutex
	hosts []*mcpapps.Host
}

// newSSEFixture serves an SSEServer over httptest and attaches a Host to every session.
func newSSEFixture(t *testing.T) *sseFixture {
	t.Helper()

	f := &sseFixture{
		server:   mcpapps.NewSSEServer("/message", mcpapps.WithSSEServerLogger(quietLogger())),
		handlers: &recordingHandlers{},
	}

	mux := http.NewServeMux()
	mux.Handle("/sse", f.server.HandleSSE())
	mux.Handle("/message", f.server.HandleMessage())
	f.httpServer = httptest.NewServer(mux)
	t.Cleanup(f.httpServer.Close)

	served := make(chan struct{})
	go func() {
		defer close(served)
		for sess := range f.server.Sessions() {
			host := mcpapps.NewHost(sess, mcpapps.Info{Name: "sse-host", Version: "1"},
				mcpapps.WithHostLogger(quietLogger()),
				mcpapps.WithHostContext(mcpapps.HostContext{Locale: "en-US"}),
				mcpapps.WithLinkOpener(f.handlers),
				mcpapps.WithMessageHandler(f.handlers),
			)
			host.Start()
			f.mu.Lock()
			f.hosts = append(f.hosts, host)
			f.mu.Unlock()
		}
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.server.Shutdown(ctx))
		<-served

		f.mu.Lock()
		defer f.mu.Unlock()
		for _, host := range f.hosts {
			host.Stop()
		}
	})

	return f
}

func (f *sseFixture) connect(t *testing.T, options ...mcpapps.SSEClientOption) (*mcpapps.SSEClient, *mcpapps.Client) {
	t.Helper()

	options = append([]mcpapps.SSEClientOption{mcpapps.WithSSEClientLogger(quietLogger())}, options...)
	port := mcpapps.NewSSEClient(f.httpServer.URL+"/sse", nil, options...)
	require.NoError(t, port.Connect(testContext(t)))
	t.Cleanup(func() { _ = port.Close() })

	client := mcpapps.NewClient(port, mcpapps.WithClientLogger(quietLogger()))
	client.Connect()
	t.Cleanup(client.Disconnect)

	return port, client
}

func TestSSERoundTrip(t *testing.T) {
	f := newSSEFixture(t)
	_, client := f.connect(t)
	ctx := testContext(t)

	res, err := client.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sse-host", res.HostInfo.Name)
	require.NotNil(t, res.HostContext)
	assert.Equal(t, "en-US", res.HostContext.Locale)

	require.NoError(t, client.OpenLink(ctx, "https://example.com"))
	require.NoError(t, client.SendMessage(ctx, "hi"))

	f.handlers.mu.Lock()
	defer f.handlers.mu.Unlock()
	assert.Equal(t, []string{"https://example.com"}, f.handlers.links)
	assert.Equal(t, []string{"hi"}, f.handlers.messages)
}

func TestSSEHostPush(t *testing.T) {
	f := newSSEFixture(t)
	_, client := f.connect(t)
	ctx := testContext(t)

	_, err := client.Initialize(ctx)
	require.NoError(t, err)

	host := f.firstHost(t)

	require.NoError(t, host.NotifyToolInput(ctx, map[string]any{"query": "scarf"}))
	require.Eventually(t, func() bool {
		return client.LatestToolInput() != nil
	}, time.Second, time.Millisecond)
	assert.JSONEq(t, `{"query":"scarf"}`, string(client.LatestToolInput()))
}

// firstHost waits for the host attached to the first session.
func (f *sseFixture) firstHost(t *testing.T) *mcpapps.Host {
	t.Helper()

	var host *mcpapps.Host
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.hosts) == 0 {
			return false
		}
		host = f.hosts[0]
		return true
	}, time.Second, time.Millisecond)
	return host
}

func TestSSEClientMaxPayloadSize(t *testing.T) {
	f := newSSEFixture(t)
	_, client := f.connect(t, mcpapps.WithSSEClientMaxPayloadSize(2048))
	ctx := testContext(t)

	_, err := client.Initialize(ctx)
	require.NoError(t, err)
	host := f.firstHost(t)

	require.NoError(t, host.NotifyToolInput(ctx, map[string]any{"query": "scarf"}))
	require.Eventually(t, func() bool {
		return client.LatestToolInput() != nil
	}, time.Second, time.Millisecond)

	// An event over the limit ends the stream instead of being delivered.
	_ = host.NotifyToolInput(ctx, map[string]any{"query": strings.Repeat("x", 8192)})
	assert.Never(t, func() bool {
		return len(client.LatestToolInput()) > 2048
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.JSONEq(t, `{"query":"scarf"}`, string(client.LatestToolInput()))
}

func TestSSESessionsAreIndependent(t *testing.T) {
	f := newSSEFixture(t)
	_, first := f.connect(t)
	_, second := f.connect(t)
	ctx := testContext(t)

	_, err := first.Initialize(ctx)
	require.NoError(t, err)
	_, err = second.Initialize(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.hosts) == 2
	}, time.Second, time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.NotSame(t, f.hosts[0], f.hosts[1])
	assert.True(t, first.Initialized())
	assert.True(t, second.Initialized())
}

func TestSSEMessageErrors(t *testing.T) {
	f := newSSEFixture(t)

	resp, err := http.Post(f.httpServer.URL+"/message", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(f.httpServer.URL+"/message?sessionID=missing", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEClientNotConnected(t *testing.T) {
	port := mcpapps.NewSSEClient("http://127.0.0.1:1/sse", nil, mcpapps.WithSSEClientLogger(quietLogger()))
	require.Error(t, port.PostMessage(testContext(t), []byte(`{}`)))
	require.NoError(t, port.Close())
}

func TestSSEShutdownRejectsStreams(t *testing.T) {
	server := mcpapps.NewSSEServer("/message", mcpapps.WithSSEServerLogger(quietLogger()))
	httpServer := httptest.NewServer(server.HandleSSE())
	t.Cleanup(httpServer.Close)

	ctx := testContext(t)
	require.NoError(t, server.Shutdown(ctx))

	resp, err := http.Get(httpServer.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	port := mcpapps.NewSSEClient(httpServer.URL, nil, mcpapps.WithSSEClientLogger(quietLogger()))
	require.Error(t, port.Connect(ctx))
}
