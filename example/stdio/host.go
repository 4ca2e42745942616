package main

import (
	"context"
	"fmt"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/sirupsen/logrus"
)

type host struct {
	*mcpapps.Host
	tools *mcpapps.ToolRegistry
}

func newHost(port mcpapps.Port, logger *logrus.Logger) (*host, error) {
	tools, err := mcpapps.NewToolRegistry(shop.Tool())
	if err != nil {
		return nil, err
	}

	h := &host{tools: tools}
	h.Host = mcpapps.NewHost(port, mcpapps.Info{Name: "stdio-host", Version: "1.0"},
		mcpapps.WithHostContext(mcpapps.HostContext{
			Theme:       mcpapps.ThemeLight,
			DisplayMode: mcpapps.DisplayModeInline,
			Locale:      "en-US",
		}),
		mcpapps.WithLinkOpener(h),
		mcpapps.WithMessageHandler(h),
		mcpapps.WithToolCaller(h),
		mcpapps.WithHostLogger(logger),
	)
	return h, nil
}

func (h *host) OpenLink(_ context.Context, params mcpapps.OpenLinkParams) error {
	fmt.Printf("[host] opening %s\n", params.URL)
	return nil
}

func (h *host) HandleMessage(_ context.Context, params mcpapps.MessageParams) error {
	fmt.Printf("[host] %s says: %s\n", params.Role, params.Content.Text)
	return nil
}

// CallTool runs the tool and pushes its result, so the widget renders it.
func (h *host) CallTool(ctx context.Context, params mcpapps.CallToolParams) (mcpapps.ToolResult, error) {
	res, err := h.tools.CallTool(ctx, params)
	if err != nil {
		return res, err
	}
	if err := h.NotifyToolResult(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}
