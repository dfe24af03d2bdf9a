// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

// RedactedStr replaces secrets in logged configuration.
const RedactedStr = "<redacted>"

// RedactString returns RedactedStr for any non-empty value.
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// RedactURL keeps the scheme of a service URL so the target kind stays
// visible, and hides everything after it.
func RedactURL(s string) string {
	if len(s) == 0 {
		return ""
	}
	if i := strings.Index(s, "://"); i > 0 {
		return s[:i+3] + RedactedStr
	}
	return RedactedStr
}
