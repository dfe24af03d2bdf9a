// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// UpdateLogSettings writes the log settings into the config file in use,
// keeping the rest of the file and its comments as they are. The file watcher
// picks the change up like any other edit.
func (c *AppConfig) UpdateLogSettings(level, path string, maxSize, maxBackups int) error {
	configPath := c.ConfigFile()
	if configPath == "" {
		return errors.New("no config file in use")
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}

	info, err := os.Stat(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to stat config file")
	}

	updated := updateLogSettingsInTOML(string(content), level, path, maxSize, maxBackups)
	if err := os.WriteFile(configPath, []byte(updated), info.Mode().Perm()); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

var sectionHeader = regexp.MustCompile(`^\s*\[`)

// updateLogSettingsInTOML sets the top-level log keys. A key that is present,
// commented out or not, is replaced on its own line. Missing keys are added
// before the first table so they stay top-level.
func updateLogSettingsInTOML(content, level, path string, maxSize, maxBackups int) string {
	settings := []struct {
		key   string
		value string
	}{
		{key: "logLevel", value: fmt.Sprintf("%q", level)},
		{key: "logPath", value: fmt.Sprintf("%q", path)},
		{key: "logMaxSize", value: fmt.Sprint(maxSize)},
		{key: "logMaxBackups", value: fmt.Sprint(maxBackups)},
	}

	lines := strings.Split(content, "\n")

	firstSection := len(lines)
	for i, line := range lines {
		if sectionHeader.MatchString(line) {
			firstSection = i
			break
		}
	}

	var missing []string
	for _, setting := range settings {
		pattern := regexp.MustCompile(`^\s*#?\s*` + regexp.QuoteMeta(setting.key) + `\s*=`)
		replacement := setting.key + " = " + setting.value

		found := false
		for i := 0; i < firstSection; i++ {
			if pattern.MatchString(lines[i]) {
				lines[i] = replacement
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, replacement)
		}
	}

	if len(missing) == 0 {
		return strings.Join(lines, "\n")
	}

	out := make([]string, 0, len(lines)+len(missing)+1)
	out = append(out, lines[:firstSection]...)
	out = append(out, missing...)
	if firstSection < len(lines) {
		out = append(out, "")
	}
	out = append(out, lines[firstSection:]...)
	return strings.Join(out, "\n")
}
