// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/config"
	"github.com/autobrr/strikarr/internal/database"
	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/models"
)

var strikeTypes = []models.StrikeType{
	models.StrikeTypeStalled,
	models.StrikeTypeSlowSpeed,
	models.StrikeTypeSlowTime,
	models.StrikeTypeFailedImport,
	models.StrikeTypeAllFilesSkipped,
	models.StrikeTypeDownloadingMetadata,
}

func RunStrikesCommand() *cobra.Command {
	var configDir, dataDir string

	cmd := &cobra.Command{
		Use:   "strikes",
		Short: "Inspect and edit the strike ledger",
	}

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the database (default is next to config file)")

	open := func() (*config.AppConfig, *database.DB, error) {
		return openLedger(configDir, dataDir)
	}

	cmd.AddCommand(runStrikesListCommand(open))
	cmd.AddCommand(runStrikesShowCommand(open))
	cmd.AddCommand(runStrikesResetCommand(open))
	cmd.AddCommand(runStrikesPruneCommand(open))
	return cmd
}

type ledgerOpener func() (*config.AppConfig, *database.DB, error)

func openLedger(configDir, dataDir string) (*config.AppConfig, *database.DB, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, err
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		cfg.Close()
		return nil, nil, err
	}
	return cfg, db, nil
}

func runStrikesListCommand(open ledgerOpener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List struck downloads with their strike counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer cfg.Close()
			defer db.Close()

			items, err := models.NewDownloadItemStore(db).ListSummaries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				cmd.Println("No struck downloads.")
				return nil
			}

			for _, item := range items {
				cmd.Printf("%s  %s  [%s]  updated %s\n",
					item.DownloadID, item.Title, itemState(item.DownloadItem), humanize.Time(item.UpdatedAt))
				cmd.Printf("    %s\n", formatStrikeCounts(item.Strikes))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of downloads to list")
	return cmd
}

func runStrikesShowCommand(open ledgerOpener) *cobra.Command {
	var eventLimit int

	cmd := &cobra.Command{
		Use:   "show <download-id>",
		Short: "Show the strikes and events recorded for one download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer cfg.Close()
			defer db.Close()

			ctx := cmd.Context()
			item, err := models.NewDownloadItemStore(db).Get(ctx, args[0])
			if err != nil {
				if errors.Is(err, models.ErrDownloadItemNotFound) {
					cmd.Printf("No strikes recorded for %s.\n", args[0])
					return nil
				}
				return err
			}

			cmd.Printf("%s  %s  [%s]\n", item.DownloadID, item.Title, itemState(*item))

			strikes, err := models.NewStrikeStore(db).ListByDownloadID(ctx, item.DownloadID)
			if err != nil {
				return err
			}
			cmd.Printf("Strikes: %d\n", len(strikes))
			for _, strike := range strikes {
				line := "  " + string(strike.Type) + "  " + humanize.Time(strike.CreatedAt)
				if strike.LastDownloadedBytes != nil {
					line += "  at " + humanize.Bytes(uint64(max(*strike.LastDownloadedBytes, 0)))
				}
				cmd.Println(line)
			}

			evts, err := models.NewEventStore(db).List(ctx, item.DownloadID, eventLimit)
			if err != nil {
				return err
			}
			cmd.Printf("Events: %d\n", len(evts))
			for _, event := range evts {
				cmd.Printf("  %s  %s  %s\n", event.EventType, humanize.Time(event.CreatedAt), event.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&eventLimit, "events", 20, "maximum number of events to show")
	return cmd
}

func runStrikesResetCommand(open ledgerOpener) *cobra.Command {
	var strikeType string

	cmd := &cobra.Command{
		Use:   "reset <download-id>",
		Short: "Forget the strikes of one download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := strikeTypes
			if strikeType != "" {
				t := models.StrikeType(strings.ToLower(strikeType))
				if !slices.Contains(strikeTypes, t) {
					return errors.New("unknown strike type " + strikeType)
				}
				types = []models.StrikeType{t}
			}

			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer cfg.Close()
			defer db.Close()

			store := models.NewStrikeStore(db)
			var total int64
			for _, t := range types {
				n, err := store.DeleteByType(cmd.Context(), args[0], t)
				if err != nil {
					return err
				}
				total += n
			}

			cmd.Printf("Removed %d strike(s) for %s.\n", total, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&strikeType, "type", "", "only reset strikes of this type")
	return cmd
}

func runStrikesPruneCommand(open ledgerOpener) *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete strikes older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := open()
			if err != nil {
				return err
			}
			defer cfg.Close()
			defer db.Close()

			if !cmd.Flags().Changed("hours") {
				hours = cfg.Snapshot().General.StrikeRetentionHours
			}
			if hours <= 0 {
				hours = domain.DefaultStrikeRetentionHours
			}

			pruned, err := models.NewStrikeStore(db).PruneOlderThan(cmd.Context(), hours)
			if err != nil {
				return err
			}

			cmd.Printf("Pruned %d strike(s) older than %d hours.\n", pruned, hours)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "retention window in hours (defaults to strikeRetentionHours)")
	return cmd
}

func itemState(item models.DownloadItem) string {
	switch {
	case item.IsRemoved && item.IsReturning:
		return "removed, returning"
	case item.IsRemoved:
		return "removed"
	case item.IsMarkedForRemoval:
		return "marked for removal"
	case item.IsReturning:
		return "returning"
	default:
		return "active"
	}
}

func formatStrikeCounts(counts map[models.StrikeType]int) string {
	parts := make([]string, 0, len(counts))
	for _, t := range strikeTypes {
		if n := counts[t]; n > 0 {
			parts = append(parts, string(t)+"="+humanize.Comma(int64(n)))
		}
	}
	if len(parts) == 0 {
		return "no strikes"
	}
	return strings.Join(parts, " ")
}
