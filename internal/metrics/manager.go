// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/strikarr/internal/database"
	"github.com/autobrr/strikarr/internal/metrics/collector"
)

type Manager struct {
	registry     *prometheus.Registry
	queueCleaner *collector.QueueCleanerCollector
}

// NewManager builds a private registry. db and recurringLen may be nil.
func NewManager(db *database.DB, recurringLen func() int) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queueCleaner := collector.NewQueueCleanerCollector(registry, recurringLen)

	if db != nil {
		registry.MustRegister(database.NewMetricsCollector(db))
	}

	log.Info().Msg("Metrics manager initialized with queue cleaner collector")

	return &Manager{
		registry:     registry,
		queueCleaner: queueCleaner,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// QueueCleaner returns the collector services record into. Nil-safe.
func (m *Manager) QueueCleaner() *collector.QueueCleanerCollector {
	if m == nil {
		return nil
	}
	return m.queueCleaner
}
