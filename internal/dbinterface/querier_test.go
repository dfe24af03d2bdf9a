// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildInClause(t *testing.T) {
	for n, want := range map[int]string{-1: "", 0: "", 1: "?", 4: "?, ?, ?, ?"} {
		assert.Equal(t, want, BuildInClause(n), "n=%d", n)
	}

	query := "DELETE FROM strikes WHERE download_item_id IN (" + BuildInClause(3) + ")"
	assert.Equal(t, 3, strings.Count(query, "?"))
}
