package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuralconfig/ruckus-ztp/pkg/audit"
	"github.com/neuralconfig/ruckus-ztp/pkg/controller"
	"github.com/neuralconfig/ruckus-ztp/pkg/util"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent WebSocket endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := controller.LoadConfig(configPath)
			if err != nil {
				return err
			}

			if verboseFlag {
				util.SetLogLevel("debug")
			} else if cfg.LogLevel != "" {
				util.SetLogLevel(cfg.LogLevel)
			}

			mgr := controller.NewManager()
			if cfg.AuthToken != "" {
				mgr.SetTokenValidator(controller.StaticToken(cfg.AuthToken))
			}

			if cfg.Audit.Path != "" {
				rotation := audit.RotationConfig{
					MaxSize:    int64(cfg.Audit.MaxSizeMB) * 1024 * 1024,
					MaxBackups: cfg.Audit.MaxBackups,
				}
				auditor, err := audit.NewFileLogger(cfg.Audit.Path, rotation)
				if err != nil {
					return err
				}
				mgr.SetAuditor(auditor)
				defer auditor.Close()
			}

			if cfg.Redis.Addr != "" {
				sink, err := controller.NewRedisSink(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
				if err != nil {
					util.Logger.Warnf("Redis event sink unavailable: %v", err)
				} else {
					mgr.SetEventSink(sink)
					defer sink.Close()
					util.Logger.Infof("Publishing events to Redis at %s (%s)", cfg.Redis.Addr, cfg.Redis.Channel)
				}
			}

			srv := &http.Server{
				Addr:    cfg.ListenAddr,
				Handler: controller.NewServer(mgr).Handler(),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				util.Logger.Infof("Controller listening on %s", cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
