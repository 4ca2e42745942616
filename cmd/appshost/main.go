package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var (
	// Set by the linker.
	appVersion = "dev"
	appCommit  = "none"
)

// CLI represents the command line interface structure using Kong
type CLI struct {
	Config string `short:"c" type:"path" help:"Path to a YAML or JSON config file"`

	Serve   ServeCmd   `cmd:"" help:"Run a demo host serving the shop widget over SSE and WebSocket"`
	Call    CallCmd    `cmd:"" help:"Connect as a widget, initialize and perform one action"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd represents the version command structure
type VersionCmd struct{}

func main() {
	cli := &CLI{}

	ctx := kong.Parse(cli,
		kong.Name("appshost"),
		kong.Description("Host and guest tooling for MCP Apps widgets"),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s)", appVersion, appCommit),
		},
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if err := ctx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Run implements the version command execution
func (v *VersionCmd) Run() error {
	fmt.Printf("appshost %s (%s)\n", appVersion, appCommit)
	return nil
}
