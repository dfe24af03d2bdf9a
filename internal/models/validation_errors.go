// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "errors"

var (
	// ErrURLRequired is returned when an arr instance or download client has no address.
	ErrURLRequired = errors.New("url is required")
	// ErrAPIKeyRequired is returned when an arr instance has no api key.
	ErrAPIKeyRequired = errors.New("apiKey is required")
	// ErrPasswordRequired is returned when a download client username is set without a password.
	ErrPasswordRequired = errors.New("password is required when username is set")
)
