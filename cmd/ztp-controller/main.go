// ztp-controller is the central process of the ZTP fleet: it terminates
// edge-agent WebSocket connections, correlates RPCs, enforces rate limits,
// and aggregates agent inventories and events.
//
// Usage:
//
//	ztp-controller serve --config controller.yaml
//	ztp-controller version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/ruckus-ztp/pkg/version"
)

var verboseFlag bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "ztp-controller",
		Short: "RUCKUS ZTP controller",
		Long: `The controller accepts edge-agent connections at /ws/edge-agent/<agent_id>,
authenticates them with bearer tokens, and multiplexes configuration pushes,
ZTP control, and ad-hoc SSH commands over the sockets.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newServeCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("ztp-controller %s (%s)\n", version.Version, version.GitCommit)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
