package mcpapps_test

import (
	"encoding/json"
	"testing"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	testCases := []struct {
		in   string
		want mcpapps.Protocol
	}{
		{"", mcpapps.ProtocolAuto},
		{"auto", mcpapps.ProtocolAuto},
		{"legacy", mcpapps.ProtocolLegacy},
		{"openai-apps", mcpapps.ProtocolLegacy},
		{" OpenAI ", mcpapps.ProtocolLegacy},
		{"transport", mcpapps.ProtocolTransport},
		{"mcp-apps", mcpapps.ProtocolTransport},
		{"MCP", mcpapps.ProtocolTransport},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := mcpapps.ParseProtocol(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := mcpapps.ParseProtocol("carrier-pigeon")
	require.Error(t, err)
}

func TestProtocolFromEnv(t *testing.T) {
	t.Setenv(mcpapps.ProtocolEnv, "mcp-apps")
	p, err := mcpapps.ProtocolFromEnv()
	require.NoError(t, err)
	assert.Equal(t, mcpapps.ProtocolTransport, p)

	t.Setenv(mcpapps.ProtocolEnv, "")
	p, err = mcpapps.ProtocolFromEnv()
	require.NoError(t, err)
	assert.Equal(t, mcpapps.ProtocolAuto, p)
}

func TestProtocolStrings(t *testing.T) {
	assert.Equal(t, "auto", mcpapps.ProtocolAuto.String())
	assert.Equal(t, "legacy", mcpapps.ProtocolLegacy.String())
	assert.Equal(t, "", mcpapps.ProtocolAuto.HintValue())
	assert.Equal(t, "openai-apps", mcpapps.ProtocolLegacy.HintValue())
	assert.Equal(t, "mcp-apps", mcpapps.ProtocolTransport.HintValue())
	assert.Equal(t, "transport", mcpapps.BackendTransport.String())
}

func TestSelectBackend(t *testing.T) {
	testCases := []struct {
		override mcpapps.Protocol
		legacy   mcpapps.Availability
		want     mcpapps.Backend
	}{
		{mcpapps.ProtocolAuto, mcpapps.Available, mcpapps.BackendLegacy},
		{mcpapps.ProtocolAuto, mcpapps.Unavailable, mcpapps.BackendTransport},
		{mcpapps.ProtocolLegacy, mcpapps.Available, mcpapps.BackendLegacy},
		{mcpapps.ProtocolLegacy, mcpapps.Unavailable, mcpapps.BackendLegacy},
		{mcpapps.ProtocolTransport, mcpapps.Available, mcpapps.BackendTransport},
		{mcpapps.ProtocolTransport, mcpapps.Unavailable, mcpapps.BackendTransport},
	}

	for _, tc := range testCases {
		t.Run(tc.override.String()+"/"+tc.legacy.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, mcpapps.SelectBackend(tc.override, tc.legacy))
		})
	}
}

func TestProbe(t *testing.T) {
	assert.Equal(t, mcpapps.Unavailable, mcpapps.Probe(nil, mcpapps.ActionOpenLink))
	assert.Equal(t, mcpapps.Available, mcpapps.Probe(&legacyOpener{}, mcpapps.ActionOpenLink))
	assert.Equal(t, mcpapps.Unavailable, mcpapps.Probe(&legacyOpener{}, mcpapps.ActionCallTool))
	assert.Equal(t, mcpapps.Unavailable, mcpapps.Probe("not a host", mcpapps.ActionSendMessage))

	for _, action := range []mcpapps.Action{
		mcpapps.ActionOpenLink,
		mcpapps.ActionSendMessage,
		mcpapps.ActionCallTool,
		mcpapps.ActionRequestDisplayMode,
	} {
		assert.Equal(t, mcpapps.Available, mcpapps.Probe(&legacyHost{}, action), action.String())
	}
}

func TestInjectProtocolHint(t *testing.T) {
	page := `<html><head><title>Shop</title></head><body></body></html>`

	assert.Equal(t, page, mcpapps.InjectProtocolHint(page, mcpapps.ProtocolAuto))
	assert.Equal(t,
		`<html><head><title>Shop</title><script>window.__FASTAPPS_PROTOCOL="mcp-apps";</script></head><body></body></html>`,
		mcpapps.InjectProtocolHint(page, mcpapps.ProtocolTransport),
	)
	assert.Equal(t,
		`<script>window.__FASTAPPS_PROTOCOL="openai-apps";</script><div id="root"></div>`,
		mcpapps.InjectProtocolHint(`<div id="root"></div>`, mcpapps.ProtocolLegacy),
	)
}

func TestDetectProtocol(t *testing.T) {
	testCases := []struct {
		name       string
		extensions map[string]json.RawMessage
		want       mcpapps.Protocol
	}{
		{"no extensions", nil, mcpapps.ProtocolLegacy},
		{"other extension", map[string]json.RawMessage{"x": json.RawMessage(`{}`)}, mcpapps.ProtocolLegacy},
		{
			"ui extension with widget mime type",
			map[string]json.RawMessage{mcpapps.UIExtension: json.RawMessage(`{"mimeTypes":["text/html+mcp"]}`)},
			mcpapps.ProtocolTransport,
		},
		{
			"ui extension without widget mime type",
			map[string]json.RawMessage{mcpapps.UIExtension: json.RawMessage(`{"mimeTypes":["text/plain"]}`)},
			mcpapps.ProtocolLegacy,
		},
		{
			"malformed ui extension",
			map[string]json.RawMessage{mcpapps.UIExtension: json.RawMessage(`true`)},
			mcpapps.ProtocolLegacy,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, mcpapps.DetectProtocol(tc.extensions))
		})
	}
}
