// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package collector

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCleanerCollector_Record(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewQueueCleanerCollector(reg, func() int { return 2 })

	m.RecordStrike("stalled")
	m.RecordStrike("stalled")
	m.RecordRemoval("sonarr", "stalled")
	m.RecordRemovalError("sonarr")
	m.RecordSearch("sonarr", "triggered")
	m.RecordRecurring()
	m.RecordPass("completed", 2*time.Second)

	assert.InDelta(t, 2, testutil.ToFloat64(m.StrikesTotal.With(prometheus.Labels{"type": "stalled"})), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RemovalsTotal.With(prometheus.Labels{"instance": "sonarr", "reason": "stalled"})), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RemovalErrorsTotal.With(prometheus.Labels{"instance": "sonarr"})), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SearchesTotal.With(prometheus.Labels{"instance": "sonarr", "outcome": "triggered"})), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RecurringTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PassesTotal.With(prometheus.Labels{"outcome": "completed"})), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.RecurringHashes), 0)

	count, err := testutil.GatherAndCount(reg, "strikarr_queue_cleaner_pass_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueueCleanerCollector_NilReceiver(t *testing.T) {
	t.Parallel()

	var m *QueueCleanerCollector
	assert.NotPanics(t, func() {
		m.RecordStrike("stalled")
		m.RecordRemoval("a", "b")
		m.RecordRemovalError("a")
		m.RecordSearch("a", "b")
		m.RecordRecurring()
		m.RecordPass("completed", time.Second)
	})
}
