package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/interview/internal/api"
	"github.com/kalambet/interview/internal/config"
	"github.com/kalambet/interview/internal/registry"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/storage"
)

// --- load ---

var loadCmd = &cobra.Command{
	Use:   "load <snapshot>",
	Short: "Print the questions and answers saved in a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := snapshot.Load(args[0])
		if err != nil {
			return err
		}

		printStatus("Title", "%s", rec.Document.Title)
		printStatus("Saved", "%s", rec.SavedAt.Local().Format(time.RFC1123))
		printStatus("Submitted", "%t", rec.WasSubmitted)
		if rec.Cwd != "" {
			printStatus("Directory", "%s", rec.Cwd)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List interviews currently waiting for answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reg := registry.New(config.PathsFor(cfg).Registry)
		entries, err := reg.Active(cmd.Context())
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active interviews.")
			return nil
		}
		for _, e := range entries {
			where := e.Cwd
			if e.Branch != "" {
				where += " (" + e.Branch + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n",
				colorize(styleStep, shortID(e.ID)),
				e.StartedAt.Local().Format(time.DateTime),
				colorize(styleBold, e.Title),
				colorize(styleDim, where),
			)
		}
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished interviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		prune, _ := cmd.Flags().GetDuration("prune")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if prune > 0 {
			n, err := store.PruneSessions(time.Now().Add(-prune))
			if err != nil {
				return err
			}
			printSuccess("Pruned %d sessions older than %s", n, prune)
			return nil
		}

		records, err := store.ListSessions(limit, 0)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No finished interviews.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintln(cmd.OutOrStdout(), formatHistoryLine(r))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	historyCmd.Flags().Duration("prune", 0, "delete sessions finished longer ago than this (e.g. 720h)")
}

func formatHistoryLine(r storage.SessionRecord) string {
	status := r.Status
	if r.Reason != "" {
		status += "/" + r.Reason
	}
	style := styleSuccess
	if r.Status != "completed" {
		style = styleWarning
	}
	line := fmt.Sprintf("%s  %s  %-20s  %s",
		colorize(styleStep, shortID(r.ID)),
		r.FinishedAt.Local().Format(time.DateTime),
		colorize(style, status),
		r.Title,
	)
	if r.RecoveryPath != "" {
		line += "  " + colorize(styleDim, r.RecoveryPath)
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask_user tool over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		r, cleanup, err := newRunner(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Runner:   r,
			Sessions: r.registry,
			History:  r.history,
		}, version)
		return server.ServeStdio(mcpSrv)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(styleBold, k.Key), k.Value, colorize(styleDim, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

