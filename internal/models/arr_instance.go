// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"strings"
)

// ArrInstanceType represents the kind of *arr application behind an instance.
type ArrInstanceType string

const (
	ArrInstanceTypeSonarr   ArrInstanceType = "sonarr"
	ArrInstanceTypeRadarr   ArrInstanceType = "radarr"
	ArrInstanceTypeLidarr   ArrInstanceType = "lidarr"
	ArrInstanceTypeReadarr  ArrInstanceType = "readarr"
	ArrInstanceTypeWhisparr ArrInstanceType = "whisparr"
)

// ParseArrInstanceType validates and normalizes an ARR instance type string.
func ParseArrInstanceType(value string) (ArrInstanceType, error) {
	switch t := ArrInstanceType(strings.ToLower(strings.TrimSpace(value))); t {
	case ArrInstanceTypeSonarr, ArrInstanceTypeRadarr, ArrInstanceTypeLidarr, ArrInstanceTypeReadarr, ArrInstanceTypeWhisparr:
		return t, nil
	default:
		return "", fmt.Errorf("invalid arr instance type: %s (must be one of sonarr, radarr, lidarr, readarr, whisparr)", value)
	}
}

// APIVersion returns the REST API version segment the application serves.
func (t ArrInstanceType) APIVersion() string {
	switch t {
	case ArrInstanceTypeLidarr, ArrInstanceTypeReadarr:
		return "v1"
	default:
		return "v3"
	}
}

// ArrInstance is a configured *arr application whose queue is cleaned.
type ArrInstance struct {
	Name    string          `json:"name" toml:"name" mapstructure:"name"`
	Type    ArrInstanceType `json:"type" toml:"type" mapstructure:"type"`
	URL     string          `json:"url" toml:"url" mapstructure:"url"`
	APIKey  string          `json:"-" toml:"apiKey" mapstructure:"apiKey"`
	Enabled bool            `json:"enabled" toml:"enabled" mapstructure:"enabled"`
}

// Label returns the name when set, else the URL.
func (i ArrInstance) Label() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	return i.URL
}

func (i *ArrInstance) Validate() error {
	t, err := ParseArrInstanceType(string(i.Type))
	if err != nil {
		return err
	}
	i.Type = t
	i.URL = strings.TrimRight(strings.TrimSpace(i.URL), "/")
	if i.URL == "" {
		return fmt.Errorf("arr instance %q: %w", i.Name, ErrURLRequired)
	}
	if strings.TrimSpace(i.APIKey) == "" {
		return fmt.Errorf("arr instance %q: %w", i.Label(), ErrAPIKeyRequired)
	}
	return nil
}
