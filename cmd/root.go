// Package cmd defines the zhiyin command-line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/zhiyin-ai/zhiyin/internal/config"
	zlog "github.com/zhiyin-ai/zhiyin/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "zhiyin",
	Short: "Zhiyin - crystal recommendation assistant",
	Long: `Zhiyin answers questions about healing crystals, grounded in a curated
knowledge base. Ingest the knowledge base once, then ask questions from
the command line, an interactive chat, or the HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// setupLogger builds the process logger and installs it as the slog
// default so library code without an injected logger picks it up.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := zlog.New(zlog.Config{Level: level})
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
