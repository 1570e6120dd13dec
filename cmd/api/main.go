package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"notesync/api/internal/config"
	"notesync/api/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "notesync-api",
	Short: "Notes API with per-user live updates",
	Long: `notesync-api serves the notes REST API and pushes note changes to
every open websocket connection of the note's owner.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NOTESYNC_CONFIG"), "YAML config file (env vars take precedence)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

// loadRuntime resolves configuration and builds the process logger.
func loadRuntime() (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(strings.TrimSpace(configPath))
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
