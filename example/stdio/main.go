package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	mcpapps "github.com/MegaGrindStone/go-mcp-apps"
	"github.com/MegaGrindStone/go-mcp-apps/internal/shop"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	// Two pipes make a duplex newline-delimited JSON stream between guest and host.
	guestReader, hostWriter := io.Pipe()
	hostReader, guestWriter := io.Pipe()

	hostPort := mcpapps.NewStdIO(hostReader, hostWriter, mcpapps.WithStdIOLogger(logger))
	guestPort := mcpapps.NewStdIO(guestReader, guestWriter, mcpapps.WithStdIOLogger(logger))
	defer func() {
		hostWriter.Close()
		guestWriter.Close()
		hostPort.Close()
		guestPort.Close()
	}()

	host, err := newHost(hostPort, logger)
	if err != nil {
		log.Fatal(err)
	}
	host.Start()
	defer host.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("Exiting...")
		cancel()
	}()

	client := mcpapps.NewClient(guestPort,
		mcpapps.WithClientInfo(mcpapps.Info{Name: "stdio-widget", Version: "1.0"}),
		mcpapps.WithClientLogger(logger),
	)
	client.Connect()
	defer client.Disconnect()

	client.OnToolResult(func(raw json.RawMessage) {
		res, err := mcpapps.DecodeToolResult(raw)
		if err != nil {
			fmt.Printf("Malformed tool result: %v\n", err)
			return
		}
		for _, c := range res.Content {
			fmt.Printf("[tool-result] %s\n", c.Text)
		}
	})
	client.OnHostContextChanged(func(hc mcpapps.HostContext) {
		fmt.Printf("[host-context] theme=%s displayMode=%s\n", hc.Theme, hc.DisplayMode)
	})

	if _, err := client.Initialize(ctx); err != nil {
		log.Fatal(err)
	}
	info, _ := client.HostInfo()
	fmt.Printf("Connected to %s, protocol %s\n", info.Name, client.ProtocolVersion())

	for {
		fmt.Println("Choose commands number:")
		cmds := []string{"context", "search", "message", "open-link", "theme", "exit"}
		for i, cmd := range cmds {
			fmt.Printf("%d. %s\n", i+1, cmd)
		}

		input, err := waitStdIOInput(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Print(err)
			continue
		}
		inputNumber, err := strconv.Atoi(input)
		if err != nil {
			fmt.Printf("Invalid input: %s\n", input)
			continue
		}
		inputIdx := inputNumber - 1
		if inputIdx < 0 || inputIdx >= len(cmds) {
			fmt.Printf("Invalid input: %s\n", input)
			continue
		}

		switch cmds[inputIdx] {
		case "context":
			hc, _ := client.HostContext()
			fmt.Printf("theme=%s displayMode=%s locale=%s\n", hc.Theme, hc.DisplayMode, hc.Locale)
		case "search":
			fmt.Println("Query:")
			query, err := waitStdIOInput(ctx)
			if err != nil {
				continue
			}
			if _, err := client.CallTool(ctx, shop.ToolName, map[string]any{"query": query}); err != nil {
				fmt.Printf("Tool failed: %v\n", err)
			}
		case "message":
			fmt.Println("Text:")
			text, err := waitStdIOInput(ctx)
			if err != nil {
				continue
			}
			if err := client.SendMessage(ctx, text); err != nil {
				fmt.Printf("Message failed: %v\n", err)
			}
		case "open-link":
			fmt.Println("URL:")
			url, err := waitStdIOInput(ctx)
			if err != nil {
				continue
			}
			if err := client.OpenLink(ctx, url); err != nil {
				fmt.Printf("Open link failed: %v\n", err)
			}
		case "theme":
			theme := mcpapps.ThemeDark
			if hc, _ := client.HostContext(); hc.Theme == mcpapps.ThemeDark {
				theme = mcpapps.ThemeLight
			}
			if err := host.UpdateHostContext(ctx, mcpapps.HostContext{Theme: theme}); err != nil {
				fmt.Printf("Update failed: %v\n", err)
			}
		case "exit":
			fmt.Println("Exiting...")
			return
		}
	}
}

func waitStdIOInput(ctx context.Context) (string, error) {
	inputChan := make(chan string)
	errsChan := make(chan error)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			inputChan <- strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			errsChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errsChan:
		return "", err
	case input := <-inputChan:
		return input, nil
	}
}
