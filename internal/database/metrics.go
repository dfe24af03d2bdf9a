// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes writer-side statistics of a DB.
type MetricsCollector struct {
	db *DB

	writeQueueDesc  *prometheus.Desc
	stmtCacheDesc   *prometheus.Desc
	writesTotalDesc *prometheus.Desc
	txTotalDesc     *prometheus.Desc
}

func NewMetricsCollector(db *DB) *MetricsCollector {
	return &MetricsCollector{
		db: db,
		writeQueueDesc: prometheus.NewDesc(
			"strikarr_db_write_queue_depth",
			"Number of single-statement writes waiting for the writer goroutine",
			nil,
			nil,
		),
		stmtCacheDesc: prometheus.NewDesc(
			"strikarr_db_prepared_statements",
			"Number of cached prepared statements",
			nil,
			nil,
		),
		writesTotalDesc: prometheus.NewDesc(
			"strikarr_db_writes_total",
			"Single-statement writes executed by the writer goroutine",
			nil,
			nil,
		),
		txTotalDesc: prometheus.NewDesc(
			"strikarr_db_write_transactions_total",
			"Write transactions started",
			nil,
			nil,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writeQueueDesc
	ch <- c.stmtCacheDesc
	ch <- c.writesTotalDesc
	ch <- c.txTotalDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.db == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.writeQueueDesc, prometheus.GaugeValue, float64(len(c.db.writeCh)))
	ch <- prometheus.MustNewConstMetric(c.stmtCacheDesc, prometheus.GaugeValue, float64(len(c.db.stmts.GetKeys())))
	ch <- prometheus.MustNewConstMetric(c.writesTotalDesc, prometheus.CounterValue, float64(c.db.writesTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.txTotalDesc, prometheus.CounterValue, float64(c.db.txTotal.Load()))
}
