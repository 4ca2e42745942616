package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/config"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/sirupsen/logrus"
)

// CallCmd represents the call command structure
type CallCmd struct {
	Transport string        `enum:"sse,ws" default:"sse" help:"Transport to the host (sse or ws)"`
	URL       string        `default:"http://localhost:8080/sse" help:"SSE stream or WebSocket URL of the host"`
	Protocol  string        `help:"Protocol override: auto, legacy or transport. Defaults to the config"`
	Timeout   time.Duration `default:"10s" help:"Timeout for the whole exchange"`
	MaxEvent  int           `default:"0" help:"Largest SSE event accepted, in bytes. 0 keeps the library default"`

	Action string `arg:"" enum:"context,open-link,message,tool,display-mode" help:"Action to perform"`
	Value  string `arg:"" optional:"" help:"URL, message text, search query or display mode"`
}

// closablePort is a Port the call command has to release.
type closablePort interface {
	mcpapps.Port
	Close() error
}

// Run implements the call command execution
func (c *CallCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	logger := cfg.NewLogger()

	override := cfg.ProtocolOverride()
	if c.Protocol != "" {
		if override, err = mcpapps.ParseProtocol(c.Protocol); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	port, err := c.dial(ctx, logger)
	if err != nil {
		return err
	}
	defer port.Close()

	registry := mcpapps.NewRegistry(
		mcpapps.WithClientLogger(logger),
		mcpapps.WithClientInfo(mcpapps.Info{Name: "appshost-call", Version: appVersion}),
	)
	client := registry.Shared(port)
	client.Connect()
	defer client.Disconnect()

	if override != mcpapps.ProtocolLegacy {
		if _, err := client.Initialize(ctx); err != nil {
			logger.WithError(err).Warn("continuing without host context")
		}
	}

	// appshost has no legacy global object to offer.
	compat := mcpapps.NewCompat(nil, client,
		mcpapps.WithProtocolOverride(override),
		mcpapps.WithCompatLogger(logger),
	)

	switch c.Action {
	case "context":
		return printJSON(compat.HostContext(ctx))
	case "open-link":
		return compat.OpenLink(ctx, c.Value)
	case "message":
		return compat.SendMessage(ctx, c.Value)
	case "tool":
		args := map[string]any{}
		if c.Value != "" {
			args["query"] = c.Value
		}
		if _, err := compat.CallTool(ctx, shop.ToolName, args); err != nil {
			return err
		}
		products, err := mcpapps.DecodeWidgetData(ctx, compat, shop.Result{})
		if err != nil {
			return err
		}
		return printJSON(products)
	case "display-mode":
		res, err := compat.RequestDisplayMode(ctx, mcpapps.DisplayMode(c.Value))
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return fmt.Errorf("unknown action %q", c.Action)
}

func (c *CallCmd) dial(ctx context.Context, logger *logrus.Logger) (closablePort, error) {
	if c.Transport == "ws" {
		return mcpapps.DialWebSocket(ctx, c.URL, mcpapps.WithWebSocketLogger(logger))
	}

	options := []mcpapps.SSEClientOption{mcpapps.WithSSEClientLogger(logger)}
	if c.MaxEvent > 0 {
		options = append(options, mcpapps.WithSSEClientMaxPayloadSize(c.MaxEvent))
	}
	sseClient := mcpapps.NewSSEClient(c.URL, nil, options...)
	if err := sseClient.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.URL, err)
	}
	return sseClient, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
