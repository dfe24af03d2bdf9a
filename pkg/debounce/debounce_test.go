// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerRunsOnce(t *testing.T) {
	d := New(20 * time.Millisecond)
	defer d.Stop()

	var executed atomic.Int64
	d.Do(func() { executed.Add(1) })
	assert.True(t, d.Queued())

	require.Eventually(t, func() bool { return executed.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, d.Queued())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), executed.Load())
}

func TestDebouncerKeepsLastSubmission(t *testing.T) {
	d := New(50 * time.Millisecond)
	defer d.Stop()

	var (
		mu       sync.Mutex
		executed []int
	)
	for i := range 5 {
		d.Do(func() {
			mu.Lock()
			executed = append(executed, i)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(executed) > 0
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{4}, executed)
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := New(20 * time.Millisecond)

	var executed atomic.Int64
	d.Do(func() { executed.Add(1) })
	d.Stop()
	d.Do(func() { executed.Add(1) })

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int64(0), executed.Load())
	assert.False(t, d.Queued())

	assert.NotPanics(t, d.Stop)
}

func TestDebouncerSeparateBursts(t *testing.T) {
	d := New(10 * time.Millisecond)
	defer d.Stop()

	var executed atomic.Int64
	d.Do(func() { executed.Add(1) })
	require.Eventually(t, func() bool { return executed.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.Do(func() { executed.Add(1) })
	require.Eventually(t, func() bool { return executed.Load() == 2 }, time.Second, 5*time.Millisecond)
}
