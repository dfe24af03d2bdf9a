// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hashutil normalizes torrent info hashes and *arr download ids so
// they compare equal regardless of which side reported them.
package hashutil

import (
	"github.com/autobrr/strikarr/pkg/stringutils"
)

// Normalize canonicalizes a hash by trimming whitespace and converting to lowercase.
// Returns an empty string if the input is blank.
// The returned string is interned, since the same hashes are looked up on
// every pass.
func Normalize(hash string) string {
	return stringutils.InternNormalized(hash)
}

// Equal reports whether a and b are the same hash, ignoring case and
// surrounding whitespace.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
