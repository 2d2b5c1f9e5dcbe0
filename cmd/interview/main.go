package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/kalambet/interview/internal/config"
)

var version = "dev"

// errNotCompleted signals an interview that ended without a submission. The
// outcome has already been printed, so main only sets the exit status.
var errNotCompleted = errors.New("interview not completed")

var rootCmd = &cobra.Command{
	Use:           "interview",
	Short:         "Ask a human structured questions through a local browser form",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("no-color"); v {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("no-color", false, "disable coloured output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)

	// Browser launchers may print to stdout, which carries outcome JSON and
	// the MCP protocol.
	browser.Stdout = os.Stderr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errNotCompleted) {
			os.Exit(2)
		}
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(newLogger(stderr, cfg.Log.Level))
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		printWarning("resolving working directory: %v", err)
		return "."
	}
	return wd
}
