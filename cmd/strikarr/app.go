// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/buildinfo"
	"github.com/autobrr/strikarr/internal/config"
	"github.com/autobrr/strikarr/internal/database"
	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/metrics"
	"github.com/autobrr/strikarr/internal/models"
	"github.com/autobrr/strikarr/internal/registry"
	"github.com/autobrr/strikarr/internal/services/arr"
	"github.com/autobrr/strikarr/internal/services/downloadclient"
	"github.com/autobrr/strikarr/internal/services/events"
	"github.com/autobrr/strikarr/internal/services/hunter"
	"github.com/autobrr/strikarr/internal/services/notifications"
	"github.com/autobrr/strikarr/internal/services/queuecleaner"
	"github.com/autobrr/strikarr/internal/services/remover"
	"github.com/autobrr/strikarr/internal/services/striker"
)

const shutdownTimeout = 30 * time.Second

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	dryRun    bool
}

func NewApplication(configDir, dataDir, logPath string, dryRun bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		dryRun:    dryRun,
	}
}

// loadConfig reads the config and applies the command line overrides. The
// overrides go through the environment so a reload keeps them.
func (app *Application) loadConfig() (*config.AppConfig, error) {
	if app.dataDir != "" {
		os.Setenv("STRIKARR__DATA_DIR", app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("STRIKARR__LOG_PATH", app.logPath)
	}
	if app.dryRun {
		os.Setenv("STRIKARR__DRY_RUN", "true")
	}

	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize configuration")
	}
	if app.dataDir != "" {
		cfg.SetDataDir(app.dataDir)
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

// components is the wired queue cleaner with everything it depends on.
type components struct {
	registry *registry.Registry
	metrics  *metrics.Manager
	notifier *notifications.Service
	events   *events.Service
	recorder *events.Recorder
	hunter   *hunter.Hunter
	cleaner  *queuecleaner.Service
}

// wire builds the services on top of db. With record set every published
// event also lands in an in-memory recorder.
func wire(cfg *config.AppConfig, db *database.DB, record bool) *components {
	c := &components{registry: registry.New(registry.DefaultDedupTTL)}

	c.metrics = metrics.NewManager(db, c.registry.Recurring.Len)
	qcMetrics := c.metrics.QueueCleaner()

	c.notifier = notifications.NewService(func() []notifications.Target {
		return cfg.Snapshot().Notifications
	}, log.Logger)

	eventStore := models.NewEventStore(db)
	c.events = events.NewService(eventStore, qcMetrics, c.notifier)

	var publisher events.Publisher = c.events
	if record {
		c.recorder = events.NewRecorder(c.events)
		publisher = c.recorder
	}

	strk := striker.New(db, c.registry.Recurring, publisher)
	arrSvc := arr.NewService(strk, cfg.Snapshot)
	checker := downloadclient.NewChecker(strk, cfg.Snapshot)

	c.hunter = hunter.New(arrSvc, cfg.Snapshot, publisher)

	rem := remover.New(remover.Deps{
		Arr:       arrSvc,
		Striker:   strk,
		Dedup:     c.registry.Dedup,
		Recurring: c.registry.Recurring,
		Hunter:    c.hunter,
		Publisher: publisher,
		Metrics:   qcMetrics,
		Settings:  cfg.Snapshot,
	})

	c.cleaner = queuecleaner.NewService(queuecleaner.Deps{
		Settings:      cfg.Snapshot,
		Arr:           arrSvc,
		Remover:       rem,
		Dedup:         c.registry.Dedup,
		ClientFactory: queuecleaner.DefaultClientFactory(checker),
		JobRuns:       models.NewJobRunStore(db),
		Strikes:       models.NewStrikeStore(db),
		Events:        eventStore,
		Metrics:       qcMetrics,
		Notifier:      c.notifier,
	})

	return c
}

func (c *components) close() {
	c.registry.Close()
}

func (app *Application) runServer() error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	defer cfg.Close()

	log.Info().Str("version", buildinfo.Version).Msg("Starting strikarr")

	cfg.WatchConfig()
	cfg.RegisterReloadListener(func(c domain.Config) {
		log.Info().
			Bool("queueCleaner", c.QueueCleaner.Enabled).
			Bool("dryRun", c.General.DryRun).
			Int("arrInstances", len(c.EnabledArrInstances())).
			Int("downloadClients", len(c.EnabledDownloadClients())).
			Msg("configuration reloaded")
	})

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to initialize database")
	}
	defer db.Close()

	c := wire(cfg, db, false)
	defer c.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.notifier.Start(ctx)
	c.hunter.Start(ctx)
	c.cleaner.Start(ctx)

	snapshot := cfg.Snapshot()
	log.Debug().Interface("config", snapshot.Redacted()).Msg("configuration loaded")
	if snapshot.General.DryRun {
		log.Warn().Msg("dry run enabled, nothing will be removed or searched")
	}

	errorChannel := make(chan error, 1)

	var metricsServer *metrics.Server
	if snapshot.MetricsEnabled {
		metricsServer = metrics.NewMetricsServer(c.metrics, snapshot.MetricsHost, snapshot.MetricsPort, snapshot.MetricsBasicAuthUsers)
		go func() {
			errorChannel <- metricsServer.ListenAndServe()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down", sig.String())
	case err := <-errorChannel:
		if err != nil {
			log.Error().Err(err).Msg("got unexpected error from metrics server")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}

	// stop the cleaner loop first so no new searches get queued
	cancel()
	if err := c.hunter.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("hunter did not drain before shutdown")
	}

	return nil
}
