// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"

	"github.com/autobrr/strikarr/pkg/hashutil"
)

// DefaultDedupTTL bounds how long a crashed removal can hold an entry.
const DefaultDedupTTL = 10 * time.Minute

// DedupCache marks downloads whose removal is in flight for an instance.
type DedupCache struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, bool]
}

func NewDedupCache(ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupCache{
		cache: ttlcache.New(ttlcache.Options[string, bool]{}.SetDefaultTTL(ttl)),
	}
}

// DedupKey builds the cache key for a download on an instance.
func DedupKey(downloadID, instanceURL string) string {
	return hashutil.Normalize(downloadID) + "|" + strings.TrimRight(instanceURL, "/")
}

// TryAcquire sets the entry and reports true, or reports false when it was
// already present.
func (c *DedupCache) TryAcquire(downloadID, instanceURL string) bool {
	key := DedupKey(downloadID, instanceURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.cache.Get(key); found {
		return false
	}
	c.cache.Set(key, true, ttlcache.DefaultTTL)
	return true
}

func (c *DedupCache) Contains(downloadID, instanceURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, found := c.cache.Get(DedupKey(downloadID, instanceURL))
	return found
}

func (c *DedupCache) Release(downloadID, instanceURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Delete(DedupKey(downloadID, instanceURL))
}

func (c *DedupCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
