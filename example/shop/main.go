package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/MegaGrindStone/go-mcp-apps/store"
	"github.com/sirupsen/logrus"
)

// legacyHost stands in for the global object of an OpenAI Apps host. It only offers
// openExternal and the passive globals, so every other action goes over the channel.
type legacyHost struct {
	theme mcpapps.Theme
}

func (l legacyHost) OpenExternal(_ context.Context, params mcpapps.OpenExternalParams) error {
	fmt.Printf("legacy host opens %s\n", params.Href)
	return nil
}

func (l legacyHost) Globals() mcpapps.OpenAIGlobals {
	return mcpapps.OpenAIGlobals{Theme: &l.theme}
}

type printer struct{}

func (printer) OpenLink(_ context.Context, params mcpapps.OpenLinkParams) error {
	fmt.Printf("host opens %s\n", params.URL)
	return nil
}

func (printer) HandleMessage(_ context.Context, params mcpapps.MessageParams) error {
	fmt.Printf("host received %s message: %s\n", params.Role, params.Content.Text)
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	guestPort, hostPort := mcpapps.NewPipe()
	defer guestPort.Close()
	defer hostPort.Close()

	tools, err := mcpapps.NewToolRegistry(shop.Tool())
	if err != nil {
		log.Fatal(err)
	}

	host := mcpapps.NewHost(hostPort, mcpapps.Info{Name: "shop-example", Version: "1.0"},
		mcpapps.WithHostContext(mcpapps.HostContext{
			Theme:       mcpapps.ThemeDark,
			DisplayMode: mcpapps.DisplayModeInline,
			Locale:      "en-US",
		}),
		mcpapps.WithLinkOpener(printer{}),
		mcpapps.WithMessageHandler(printer{}),
		mcpapps.WithToolCaller(tools),
		mcpapps.WithToolStateStore(store.NewMemory(time.Hour), shop.ToolName),
		mcpapps.WithHostLogger(logger),
	)
	host.Start()
	defer host.Stop()

	// The chat already ran the tool before the widget loaded.
	initial, err := tools.CallTool(ctx, mcpapps.CallToolParams{
		Name:      shop.ToolName,
		Arguments: map[string]any{"query": "cashmere"},
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := host.NotifyToolResult(ctx, initial); err != nil {
		log.Fatal(err)
	}

	registry := mcpapps.NewRegistry(mcpapps.WithClientLogger(logger))
	client := registry.Shared(guestPort)

	gotResult := make(chan struct{}, 1)
	client.OnToolResult(func(json.RawMessage) {
		select {
		case gotResult <- struct{}{}:
		default:
		}
	})

	compat := mcpapps.NewCompat(legacyHost{theme: mcpapps.ThemeLight}, client, mcpapps.WithCompatLogger(logger))

	// Opening a link goes through the legacy object, sending a message through the channel.
	if err := compat.OpenLink(ctx, "https://example.com/products/1"); err != nil {
		log.Fatal(err)
	}
	if err := compat.SendMessage(ctx, "Show me something warmer"); err != nil {
		log.Fatal(err)
	}

	// The stored result is replayed once the guest finished its handshake.
	select {
	case <-gotResult:
	case <-ctx.Done():
		log.Fatal(ctx.Err())
	}

	data, err := mcpapps.DecodeWidgetData(ctx, compat, shop.Result{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("widget shows %d products for %q\n", data.TotalResults, data.Query)

	hc := compat.HostContext(ctx)
	if hc.Theme != nil {
		// The legacy theme wins over the host context.
		fmt.Printf("theme: %s\n", *hc.Theme)
	}

	res, err := compat.RequestDisplayMode(ctx, mcpapps.DisplayModeFullscreen)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("display mode: %s\n", res.Mode)
}
