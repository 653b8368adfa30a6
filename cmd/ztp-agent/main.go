// ztp-agent runs on-premises at a customer site, bridging the central
// controller to the site's LAN: it discovers RUCKUS ICX switches from seeds,
// provisions them to their configured state, and streams inventory and
// events back over a single WebSocket uplink.
//
// Usage:
//
//	ztp-agent run --config /etc/ruckus-ztp-edge-agent/config.ini
//	ztp-agent setup --config /etc/ruckus-ztp-edge-agent/config.ini
//	ztp-agent version
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
		Use:   "ztp-agent",
		Short: "RUCKUS ZTP edge agent",
		Long: `The ZTP edge agent provisions RUCKUS ICX switches on the local LAN.

It connects out to the controller over a WebSocket, registers itself, and
then acts on pushed configuration: seeding the discovery walker, running the
per-switch provisioning state machine, and answering ad-hoc SSH commands.

Exit codes: 0 on normal shutdown, 1 on fatal configuration errors.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	}

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(
		newRunCmd(),
		newSetupCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("ztp-agent %s (%s)\n", version.Version, version.GitCommit)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
