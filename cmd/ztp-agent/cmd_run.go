package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/ruckus-ztp/pkg/agent"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

// defaultConfigPaths is the search order when --config is not given.
var defaultConfigPaths = []string{
	"/etc/ruckus-ztp-edge-agent/ztp_config.ini",
	"/etc/ruckus-ztp-edge-agent/config.ini",
	"config.ini",
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the edge agent",
		Long: `Connect to the controller and serve the site until interrupted.

The agent reconnects unconditionally after any disconnect, re-registers,
and re-announces its inventory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAgentConfig(configPath)
			if err != nil {
				return err
			}

			if verboseFlag {
				util.SetLogLevel("debug")
			} else if cfg.LogLevel != "" {
				util.SetLogLevel(cfg.LogLevel)
			}
			if cfg.LogFile != "" {
				if err := util.SetLogFile(cfg.LogFile); err != nil {
					util.Logger.Warnf("Could not open log file %s: %v", cfg.LogFile, err)
				}
			}

			util.WithAgent(cfg.AgentID).Infof("Starting ZTP edge agent, backend %s", cfg.WebSocketURL())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return agent.New(cfg).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// loadAgentConfig resolves the config path through the documented search
// order when none is given.
func loadAgentConfig(path string) (*agent.Config, error) {
	if path != "" {
		return agent.LoadConfig(path)
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return agent.LoadConfig(p)
		}
	}
	return nil, util.NewConfigError("", "config", "no configuration file found in default locations")
}
