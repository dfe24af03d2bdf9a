// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/config"
	"github.com/autobrr/strikarr/internal/services/notifications"
)

func RunNotifyTestCommand() *cobra.Command {
	var (
		configDir string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify-test [target-name]",
		Short: "Send a test message to the configured notification targets",
		Long: `Send a test message to every enabled notification target, or only to the
named one. Event filters are ignored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return err
			}
			defer cfg.Close()

			targets := cfg.Snapshot().Notifications
			svc := notifications.NewService(func() []notifications.Target { return targets }, log.Logger)

			ctx := cmd.Context()
			sent, failed := 0, 0
			for _, target := range targets {
				if len(args) == 1 && !strings.EqualFold(target.Name, args[0]) {
					continue
				}
				if len(args) == 0 && !target.Enabled {
					continue
				}

				sendCtx, cancel := context.WithTimeout(ctx, timeout)
				err := svc.SendTest(sendCtx, target, "strikarr test", "Test notification from strikarr "+buildinfo.Version)
				cancel()

				if err != nil {
					failed++
					cmd.Printf("%s: failed: %v\n", target.Name, err)
					continue
				}
				sent++
				cmd.Printf("%s: sent\n", target.Name)
			}

			if sent == 0 && failed == 0 {
				if len(args) == 1 {
					return fmt.Errorf("no notification target named %q", args[0])
				}
				cmd.Println("No enabled notification targets.")
				return nil
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d notification(s) failed", failed, sent+failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "timeout per target")
	return cmd
}
