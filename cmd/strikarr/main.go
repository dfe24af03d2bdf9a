// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/config"
	"github.com/autobrr/strikarr/internal/database"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "strikarr",
		Short: "Queue cleaner for Sonarr, Radarr and friends",
		Long: `strikarr - watches the download queues of your *arr instances, strikes
stalled, slow and failed downloads and removes them once they run out of
strikes, searching for a replacement afterwards.`,
		SilenceUsage: true,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunOnceCommand())
	rootCmd.AddCommand(RunStrikesCommand())
	rootCmd.AddCommand(RunNotifyTestCommand())
	rootCmd.AddCommand(RunLogSettingsCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	return rootCmd
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		dryRun    bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Run the queue cleaner until interrupted",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/strikarr/ or %APPDATA%\\strikarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "log removals and searches without performing them")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, dataDir, logPath, dryRun)
		return app.runServer()
	}

	return command
}

func RunOnceCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		dryRun    bool
		timeout   time.Duration
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Run a single queue cleaner pass and exit",
		Long: `Run a single queue cleaner pass against every enabled instance and exit.

Replacement searches queued by the pass are given until --timeout to finish.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, dataDir, "", dryRun)
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			defer cfg.Close()

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return errors.Wrap(err, "failed to initialize database")
			}
			defer db.Close()

			c := wire(cfg, db, true)
			defer c.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c.notifier.Start(ctx)
			c.hunter.Start(ctx)

			stats, runErr := c.cleaner.RunOnce(ctx)

			if err := c.hunter.Shutdown(ctx); err != nil {
				cmd.PrintErrf("Replacement searches did not finish: %v\n", err)
			}

			if stats.Skipped {
				cmd.Println("Pass skipped: queue cleaner is disabled or not configured.")
				return nil
			}

			counts := c.recorder.Counts()
			cmd.Printf("Pass finished in %s\n", stats.Duration.Round(time.Millisecond))
			cmd.Printf("Instances: %d\n", stats.Instances)
			cmd.Printf("Downloads checked: %d\n", stats.Items)
			cmd.Printf("Strikes: %d\n", counts.Strikes)
			cmd.Printf("Removed: %d\n", stats.Removed)
			cmd.Printf("Recurring: %d\n", counts.Recurring)
			cmd.Printf("Searches triggered: %d\n", counts.SearchTriggered)
			cmd.Printf("Errors: %d\n", stats.Errors)

			return runErr
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")
	command.Flags().BoolVar(&dryRun, "dry-run", false, "log removals and searches without performing them")
	command.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "maximum time for the pass and its searches")

	return command
}

func RunVersionCommand() *cobra.Command {
	var outputJSON bool

	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of strikarr",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				out, err := buildinfo.JSON()
				if err != nil {
					return err
				}
				cmd.Println(string(out))
				return nil
			}
			cmd.Print(buildinfo.String())
			return nil
		},
	}

	command.Flags().BoolVar(&outputJSON, "json", false, "print version information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the cleaner.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/strikarr/config.toml
- Windows: %APPDATA%\strikarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: strikarr generate-config --config-dir /path/to/config/
- File: strikarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configFilePath(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

func configFilePath(configDir string) string {
	if configDir == "" {
		return filepath.Join(config.GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
		return configDir
	}
	if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
		return configDir
	}
	return filepath.Join(configDir, "config.toml")
}
