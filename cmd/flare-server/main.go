// Package main provides the flare-server binary: the profiling-session
// relay the dashboard connects to.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flare-profiler/flare/internal/config"
	"github.com/flare-profiler/flare/internal/logging"
	"github.com/flare-profiler/flare/internal/profiler"
	"github.com/flare-profiler/flare/internal/server"
	"github.com/flare-profiler/flare/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "flare-server",
		Short:         "Flare - profiling-session relay for JVM agents and historical samples",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newStartCmd() *cobra.Command {
	var (
		configPath string
		bindAddr   string
		historyDir string
		logLevel   string
		pretty     bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the profiling-session relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if bindAddr != "" {
				cfg.BindAddr = bindAddr
			}
			if historyDir != "" {
				cfg.HistoryDir = historyDir
			}

			logger := logging.New(logging.Config{Level: logLevel, Pretty: pretty})

			// The registry is created before the server binds.
			coord := profiler.New(cfg, logger)
			srv := server.New(coord, cfg.BindAddr, logger)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("cannot bind %s: %w", cfg.BindAddr, err)
			}

			logger.Info().
				Str("version", version.Version).
				Str("bind_addr", cfg.BindAddr).
				Str("history_dir", cfg.HistoryDir).
				Msg("Flare profiler ready")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			sig := <-sigCh

			// Cooperative shutdown: stop accepting, leave in-flight
			// connections to drain on their own.
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			coord.Shutdown()
			_ = srv.Close()
			coord.CloseAll()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&bindAddr, "bind", "", "Listen address (overrides config)")
	cmd.Flags().StringVar(&historyDir, "history-dir", "", "Historical samples root (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "Human-readable console logs")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Flare server version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
