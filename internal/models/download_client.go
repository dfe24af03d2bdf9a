// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"strings"
)

type DownloadClientType string

const (
	DownloadClientTypeQBittorrent  DownloadClientType = "qbittorrent"
	DownloadClientTypeDeluge       DownloadClientType = "deluge"
	DownloadClientTypeTransmission DownloadClientType = "transmission"
	DownloadClientTypeUTorrent     DownloadClientType = "utorrent"
)

func ParseDownloadClientType(value string) (DownloadClientType, error) {
	switch t := DownloadClientType(strings.ToLower(strings.TrimSpace(value))); t {
	case DownloadClientTypeQBittorrent, DownloadClientTypeDeluge, DownloadClientTypeTransmission, DownloadClientTypeUTorrent:
		return t, nil
	default:
		return "", fmt.Errorf("invalid download client type: %s", value)
	}
}

// DownloadClient is a configured torrent client consulted for queue items.
type DownloadClient struct {
	Name          string             `json:"name" toml:"name" mapstructure:"name"`
	Type          DownloadClientType `json:"type" toml:"type" mapstructure:"type"`
	Host          string             `json:"host" toml:"host" mapstructure:"host"`
	URLBase       string             `json:"urlBase,omitempty" toml:"urlBase" mapstructure:"urlBase"`
	Username      string             `json:"username,omitempty" toml:"username" mapstructure:"username"`
	Password      string             `json:"-" toml:"password" mapstructure:"password"`
	TLSSkipVerify bool               `json:"tlsSkipVerify" toml:"tlsSkipVerify" mapstructure:"tlsSkipVerify"`
	Enabled       bool               `json:"enabled" toml:"enabled" mapstructure:"enabled"`
}

// URL joins Host and URLBase.
func (c DownloadClient) URL() string {
	host := strings.TrimRight(strings.TrimSpace(c.Host), "/")
	base := strings.Trim(strings.TrimSpace(c.URLBase), "/")
	if base == "" {
		return host
	}
	return host + "/" + base
}

func (c *DownloadClient) Validate() error {
	t, err := ParseDownloadClientType(string(c.Type))
	if err != nil {
		return err
	}
	c.Type = t
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("download client %q: host %w", c.Name, ErrURLRequired)
	}
	if c.Type == DownloadClientTypeQBittorrent && c.Username != "" && c.Password == "" {
		return fmt.Errorf("download client %q: %w", c.Name, ErrPasswordRequired)
	}
	return nil
}
