// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package stringutils interns strings via Go's unique package so repeated
// values like torrent hashes share memory.
package stringutils

import (
	"strings"
	"unique"
)

// Intern returns a canonical representation of the string using Go's unique package.
// The returned string is semantically identical to the input.
func Intern(s string) string {
	if s == "" {
		return ""
	}
	return unique.Make(s).Value()
}

// InternNormalized interns a trimmed and lowercased version of the string.
// This is the canonical form for case-insensitive string matching.
func InternNormalized(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return ""
	}
	return unique.Make(normalized).Value()
}
