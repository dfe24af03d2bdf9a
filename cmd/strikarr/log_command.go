// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/config"
)

var logLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func RunLogSettingsCommand() *cobra.Command {
	var (
		configDir  string
		level      string
		path       string
		maxSize    int
		maxBackups int
	)

	cmd := &cobra.Command{
		Use:   "log-settings",
		Short: "Change the log settings in the config file",
		Long: `Change the log settings in the config file. Settings that are not passed keep
their current value. A running instance picks the change up on its own.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return err
			}
			defer cfg.Close()

			current := cfg.Snapshot()
			flags := cmd.Flags()
			if !flags.Changed("level") {
				level = current.LogLevel
			}
			if !flags.Changed("path") {
				path = current.LogPath
			}
			if !flags.Changed("max-size") {
				maxSize = current.LogMaxSize
			}
			if !flags.Changed("max-backups") {
				maxBackups = current.LogMaxBackups
			}

			level = strings.ToUpper(level)
			if !slices.Contains(logLevels, level) {
				return fmt.Errorf("invalid log level %q, expected one of %s", level, strings.Join(logLevels, ", "))
			}
			if maxSize < 0 || maxBackups < 0 {
				return fmt.Errorf("max-size and max-backups must not be negative")
			}

			if err := cfg.UpdateLogSettings(level, path, maxSize, maxBackups); err != nil {
				return err
			}

			cmd.Printf("Log settings written to %s\n", cfg.ConfigFile())
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	cmd.Flags().StringVar(&level, "level", "", "log level: TRACE, DEBUG, INFO, WARN or ERROR")
	cmd.Flags().StringVar(&path, "path", "", "log file path, empty logs to stdout")
	cmd.Flags().IntVar(&maxSize, "max-size", 0, "maximum log file size in megabytes before rotation")
	cmd.Flags().IntVar(&maxBackups, "max-backups", 0, "number of rotated log files to keep, 0 keeps all")
	return cmd
}
