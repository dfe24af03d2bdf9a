// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueCleanerCollector holds the cleaner's counters. All methods accept a nil
// receiver so services can run without metrics.
type QueueCleanerCollector struct {
	StrikesTotal        *prometheus.CounterVec
	RemovalsTotal       *prometheus.CounterVec
	RemovalErrorsTotal  *prometheus.CounterVec
	SearchesTotal       *prometheus.CounterVec
	RecurringTotal      prometheus.Counter
	PassesTotal         *prometheus.CounterVec
	PassDurationSeconds prometheus.Histogram
	RecurringHashes     prometheus.GaugeFunc
}

func NewQueueCleanerCollector(r prometheus.Registerer, recurringLen func() int) *QueueCleanerCollector {
	m := &QueueCleanerCollector{
		StrikesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "strikes_total",
			Help:      "Total number of strikes recorded",
		}, []string{"type"}),
		RemovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "removals_total",
			Help:      "Total number of queue items removed",
		}, []string{"instance", "reason"}),
		RemovalErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "removal_errors_total",
			Help:      "Total number of failed queue item removals",
		}, []string{"instance"}),
		SearchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "searches_total",
			Help:      "Total number of replacement searches by outcome",
		}, []string{"instance", "outcome"}),
		RecurringTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "recurring_total",
			Help:      "Total number of downloads struck again after reaching their limit",
		}),
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "passes_total",
			Help:      "Total number of cleaning passes by outcome",
		}, []string{"outcome"}),
		PassDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "pass_duration_seconds",
			Help:      "Duration of cleaning passes",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}

	r.MustRegister(m.StrikesTotal)
	r.MustRegister(m.RemovalsTotal)
	r.MustRegister(m.RemovalErrorsTotal)
	r.MustRegister(m.SearchesTotal)
	r.MustRegister(m.RecurringTotal)
	r.MustRegister(m.PassesTotal)
	r.MustRegister(m.PassDurationSeconds)

	if recurringLen != nil {
		m.RecurringHashes = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "strikarr",
			Subsystem: "queue_cleaner",
			Name:      "recurring_hashes",
			Help:      "Number of downloads currently flagged as recurring",
		}, func() float64 { return float64(recurringLen()) })
		r.MustRegister(m.RecurringHashes)
	}

	return m
}

func (m *QueueCleanerCollector) RecordStrike(strikeType string) {
	if m == nil {
		return
	}
	m.StrikesTotal.With(prometheus.Labels{"type": strikeType}).Inc()
}

func (m *QueueCleanerCollector) RecordRemoval(instance, reason string) {
	if m == nil {
		return
	}
	m.RemovalsTotal.With(prometheus.Labels{"instance": instance, "reason": reason}).Inc()
}

func (m *QueueCleanerCollector) RecordRemovalError(instance string) {
	if m == nil {
		return
	}
	m.RemovalErrorsTotal.With(prometheus.Labels{"instance": instance}).Inc()
}

func (m *QueueCleanerCollector) RecordSearch(instance, outcome string) {
	if m == nil {
		return
	}
	m.SearchesTotal.With(prometheus.Labels{"instance": instance, "outcome": outcome}).Inc()
}

func (m *QueueCleanerCollector) RecordRecurring() {
	if m == nil {
		return
	}
	m.RecurringTotal.Inc()
}

func (m *QueueCleanerCollector) RecordPass(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PassesTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	m.PassDurationSeconds.Observe(elapsed.Seconds())
}
