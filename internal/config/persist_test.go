// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateLogSettingsInTOMLUpdatesCommentedKeysInPlace(t *testing.T) {
	content := `# config.toml - Auto-generated on first run

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/strikarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

[general]
#searchDelay = 120
`
	updated := updateLogSettingsInTOML(content, "DEBUG", "/config/strikarr.log", 50, 3)

	generalIndex := strings.Index(updated, "[general]")
	require.NotEqual(t, -1, generalIndex, "missing general section:\n%s", updated)

	lastLogPath := strings.LastIndex(updated, "logPath")
	require.NotEqual(t, -1, lastLogPath)
	assert.Less(t, lastLogPath, generalIndex, "logPath appended after general section")

	assert.Contains(t, updated, `logPath = "/config/strikarr.log"`)
	assert.Contains(t, updated, "logMaxSize = 50")
	assert.Contains(t, updated, "logMaxBackups = 3")
	assert.Contains(t, updated, `logLevel = "DEBUG"`)
	assert.Equal(t, strings.Count(content, "\n"), strings.Count(updated, "\n"), "keys replaced in place")
}

func TestUpdateLogSettingsInTOMLAddsMissingKeysBeforeTables(t *testing.T) {
	content := `logLevel = "INFO"

[queueCleaner]
enabled = true
# logPath inside a table must not be touched
`
	updated := updateLogSettingsInTOML(content, "WARN", "", 10, 0)

	tableIndex := strings.Index(updated, "[queueCleaner]")
	for _, key := range []string{`logLevel = "WARN"`, `logPath = ""`, "logMaxSize = 10", "logMaxBackups = 0"} {
		idx := strings.Index(updated, key)
		require.NotEqual(t, -1, idx, key)
		assert.Less(t, idx, tableIndex, key)
	}
	assert.Contains(t, updated, "# logPath inside a table must not be touched")
}

func TestUpdateLogSettingsWritesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, cfg.UpdateLogSettings("TRACE", filepath.Join(dir, "strikarr.log"), 20, 1))

	content, err := os.ReadFile(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `logLevel = "TRACE"`)

	require.NoError(t, cfg.Reload())
	assert.Equal(t, "TRACE", cfg.Snapshot().LogLevel)
	assert.Equal(t, 20, cfg.Snapshot().LogMaxSize)
}
