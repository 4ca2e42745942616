package mcpapps_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() mcpapps.Tool {
	return mcpapps.Tool{
		Name:        "echo",
		Description: "Echoes the text back",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Handler: func(_ context.Context, args map[string]any) (mcpapps.ToolResult, error) {
			text, _ := args["text"].(string)
			return mcpapps.ToolResult{
				Content:           []mcpapps.Content{{Type: "text", Text: text}},
				StructuredContent: json.RawMessage(`{"echo":` + mustQuote(text) + `}`),
			}, nil
		},
	}
}

func mustQuote(s string) string {
	bs, _ := json.Marshal(s)
	return string(bs)
}

func TestNewToolRegistryValidation(t *testing.T) {
	handler := func(context.Context, map[string]any) (mcpapps.ToolResult, error) {
		return mcpapps.ToolResult{}, nil
	}

	testCases := []struct {
		name  string
		tools []mcpapps.Tool
	}{
		{"empty name", []mcpapps.Tool{{Description: "d", Handler: handler}}},
		{"no description", []mcpapps.Tool{{Name: "a", Handler: handler}}},
		{"no handler", []mcpapps.Tool{{Name: "a", Description: "d"}}},
		{"duplicate", []mcpapps.Tool{echoTool(), echoTool()}},
		{"broken schema", []mcpapps.Tool{{
			Name:        "a",
			Description: "d",
			Handler:     handler,
			InputSchema: json.RawMessage(`{"type": 12}`),
		}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mcpapps.NewToolRegistry(tc.tools...)
			require.Error(t, err)
		})
	}
}

func TestToolRegistryCallTool(t *testing.T) {
	noop := mcpapps.Tool{
		Name:        "noop",
		Description: "Does nothing",
		Handler: func(_ context.Context, args map[string]any) (mcpapps.ToolResult, error) {
			return mcpapps.ToolResult{Content: []mcpapps.Content{{Type: "text", Text: fmt.Sprint(len(args))}}}, nil
		},
	}
	registry, err := mcpapps.NewToolRegistry(echoTool(), noop)
	require.NoError(t, err)

	tools := registry.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "noop", tools[1].Name)

	ctx := testContext(t)

	res, err := registry.CallTool(ctx, mcpapps.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":"hi"}`, string(res.StructuredContent))

	// Missing arguments are passed as an empty map.
	res, err = registry.CallTool(ctx, mcpapps.CallToolParams{Name: "noop"})
	require.NoError(t, err)
	assert.Equal(t, "0", res.Content[0].Text)

	_, err = registry.CallTool(ctx, mcpapps.CallToolParams{Name: "missing"})
	require.ErrorIs(t, err, mcpapps.ErrToolNotFound)

	_, err = registry.CallTool(ctx, mcpapps.CallToolParams{Name: "echo", Arguments: map[string]any{"text": 1}})
	require.ErrorIs(t, err, mcpapps.ErrInvalidToolArguments)

	_, err = registry.CallTool(ctx, mcpapps.CallToolParams{Name: "echo"})
	require.ErrorIs(t, err, mcpapps.ErrInvalidToolArguments)
}
