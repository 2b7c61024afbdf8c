package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Proton-105/protrader-agent/pkg/config"
	"github.com/Proton-105/protrader-agent/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "protrader-agent",
	Short:         "Desktop agent that trades on the in-game marketplace",
	Long:          `protrader-agent drives the game client through screen matching and synthetic input, and takes its orders from the operator server over a websocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file (default ./configs/<APP_ENV>.yaml)")
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// loadConfig reads the configuration and builds the logger described by it.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, _, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(*cfg), nil
}
