package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/devrelay/internal/cli/config"
	"github.com/coral-mesh/devrelay/internal/cli/run"
	"github.com/coral-mesh/devrelay/pkg/version"
)

// NewRootCmd builds the devrelay command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devrelay",
		Short: "devrelay - expose a browser's DevTools endpoint through one port",
		Long: `devrelay launches a debuggable browser and relays its DevTools protocol
to remote clients over a single public port.

Plain HTTP requests are proxied to the DevTools metadata endpoints with every
advertised WebSocket URL rewritten to point back at the relay. WebSocket
upgrades are tunnelled to the browser's debugger socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(config.NewConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("devrelay version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
