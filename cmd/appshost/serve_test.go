package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/config"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/MegaGrindStone/go-mcp-apps/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDemoHost(t *testing.T, cfg config.Config) *demoHost {
	t.Helper()

	tools, err := mcpapps.NewToolRegistry(shop.Tool())
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	return &demoHost{
		cfg:    cfg,
		logger: logger,
		store:  store.NewMemory(time.Hour),
		tools:  tools,
	}
}

func TestBaseURL(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "http://localhost:8080", baseURL(cfg))

	cfg.Server.ListenAddr = "0.0.0.0:9000"
	assert.Equal(t, "http://0.0.0.0:9000", baseURL(cfg))

	cfg.Server.BaseURL = "https://apps.example.com/"
	assert.Equal(t, "https://apps.example.com", baseURL(cfg))
}

func TestHandleWidget(t *testing.T) {
	testCases := []struct {
		name     string
		protocol string
		header   string
		want     string
	}{
		{"no hint", "", "", ""},
		{"forced legacy", "legacy", `{"io.modelcontextprotocol/ui":{"mimeTypes":["text/html+mcp"]}}`, "openai-apps"},
		{"detected transport", "", `{"io.modelcontextprotocol/ui":{"mimeTypes":["text/html+mcp"]}}`, "mcp-apps"},
		{"detected legacy", "", `{}`, "openai-apps"},
		{"malformed header", "", `not json`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Protocol = tc.protocol
			d := newTestDemoHost(t, cfg)

			req := httptest.NewRequest(http.MethodGet, "/widget", nil)
			if tc.header != "" {
				req.Header.Set(extensionsHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			d.handleWidget(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			if tc.want == "" {
				assert.Equal(t, shop.WidgetHTML, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `window.__FASTAPPS_PROTOCOL="`+tc.want+`"`)
			}
		})
	}
}

func TestHandleWidgetMissingFile(t *testing.T) {
	cfg := config.Default()
	cfg.Widget.HTMLPath = t.TempDir() + "/missing.html"
	d := newTestDemoHost(t, cfg)

	rec := httptest.NewRecorder()
	d.handleWidget(rec, httptest.NewRequest(http.MethodGet, "/widget", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDemoHostPushesToolCalls(t *testing.T) {
	d := newTestDemoHost(t, config.Default())

	guestPort, hostPort := mcpapps.NewPipe()
	t.Cleanup(func() {
		_ = guestPort.Close()
		_ = hostPort.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	served := make(chan struct{})
	go func() {
		defer close(served)
		d.serve(ctx, hostPort, done)
	}()
	t.Cleanup(func() {
		close(done)
		<-served
	})

	client := mcpapps.NewClient(guestPort, mcpapps.WithClientLogger(d.logger))
	client.Connect()
	t.Cleanup(client.Disconnect)

	// The host attaches asynchronously; messages sent before that are dropped.
	require.Eventually(t, func() bool {
		attemptCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		_, err := client.Initialize(attemptCtx)
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	hc, ok := client.HostContext()
	require.True(t, ok)
	assert.Equal(t, mcpapps.ThemeLight, hc.Theme)

	raw, err := client.CallTool(ctx, shop.ToolName, map[string]any{"query": "parka"})
	require.NoError(t, err)

	var res mcpapps.ToolResult
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.Equal(t, `Found 1 products for "parka"`, res.Content[0].Text)

	require.Eventually(t, func() bool {
		return client.LatestToolResult() != nil
	}, time.Second, time.Millisecond)
	assert.JSONEq(t, `{"query":"parka"}`, string(client.LatestToolInput()))

	input, result, err := d.store.ToolState(ctx, "shop")
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"parka"}`, string(input))
	assert.NotNil(t, result)
}

func TestWebSocketPortsCloseAll(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ports := newWebSocketPorts()
	accepted := make(chan bool, 2)
	served := make(chan *mcpapps.WebSocketPort, 1)
	handler := mcpapps.NewWebSocketHandler(func(p *mcpapps.WebSocketPort) {
		ok := ports.add(p)
		if ok {
			served <- p
		}
		accepted <- ok
	}, mcpapps.WithWebSocketLogger(logger))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial := func() *mcpapps.WebSocketPort {
		guest, err := mcpapps.DialWebSocket(ctx, url, mcpapps.WithWebSocketLogger(logger))
		require.NoError(t, err)
		t.Cleanup(func() { _ = guest.Close() })
		// A listener starts the read loop, so the guest notices the close.
		guest.AddMessageListener(func([]byte) {})
		return guest
	}

	first := dial()
	require.True(t, <-accepted)
	port := <-served
	assert.Equal(t, 1, ports.count())

	ports.closeAll()
	for _, done := range []<-chan struct{}{port.Done(), first.Done()} {
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("connection left open after closeAll")
		}
	}

	second := dial()
	require.False(t, <-accepted)
	select {
	case <-second.Done():
	case <-ctx.Done():
		t.Fatal("connection accepted after closeAll")
	}
}
