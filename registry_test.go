package mcpapps_test

import (
	"testing"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryShared(t *testing.T) {
	registry := mcpapps.NewRegistry(mcpapps.WithClientLogger(quietLogger()))
	window, other := newFakePort("window"), newFakePort("frame")

	first := registry.Shared(window)
	assert.Same(t, first, registry.Shared(window))
	// A different port value with the same id is the same channel.
	assert.Same(t, first, registry.Shared(newFakePort("window")))
	assert.NotSame(t, first, registry.Shared(other))
	assert.Equal(t, 2, registry.Len())

	got, ok := registry.Lookup("window")
	require.True(t, ok)
	assert.Same(t, first, got)

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistrySharesState(t *testing.T) {
	registry := mcpapps.NewRegistry(mcpapps.WithClientLogger(quietLogger()))
	port := newFakePort("window")

	a := registry.Shared(port)
	a.Connect()
	t.Cleanup(a.Disconnect)

	port.deliver(`{"jsonrpc":"2.0","method":"ui/notifications/tool-input","params":{"query":"coats"}}`)

	b := registry.Shared(port)
	assert.JSONEq(t, `{"query":"coats"}`, string(b.LatestToolInput()))
	assert.Equal(t, 1, port.listenerCount())
}
