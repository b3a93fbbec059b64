// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache holds short-lived remote responses keyed by request identity.
package cache

import (
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/sync/singleflight"
)

type Entry[V any] struct {
	Key      string
	Payload  V
	StoredAt time.Time
}

// Cache is a TTL map. Get never hands out an entry older than the TTL even if
// the underlying cache has not collected it yet.
type Cache[V any] struct {
	ttl     time.Duration
	entries *ttlcache.Cache[string, Entry[V]]
	group   singleflight.Group
	now     func() time.Time
}

func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &Cache[V]{
		ttl:     ttl,
		entries: ttlcache.New(ttlcache.Options[string, Entry[V]]{}.SetDefaultTTL(ttl)),
		now:     time.Now,
	}
}

func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	entry, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if c.expired(entry) {
		c.entries.Delete(key)
		return zero, false
	}
	return entry.Payload, true
}

func (c *Cache[V]) Set(key string, payload V) {
	c.entries.Set(key, Entry[V]{Key: key, Payload: payload, StoredAt: c.now()}, ttlcache.DefaultTTL)
}

func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
}

// Do returns the cached value for key or calls fn once for all concurrent
// callers that miss at the same time. The second return reports a cache hit.
func (c *Cache[V]) Do(key string, fn func() (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return res.(V), false, nil
}

// Sweep evicts expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	removed := 0
	for _, key := range c.entries.GetKeys() {
		if key == "" {
			continue
		}
		entry, ok := c.entries.Get(key)
		if !ok {
			continue
		}
		if c.expired(entry) {
			c.entries.Delete(key)
			removed++
		}
	}
	return removed
}

// Len counts live keys. GetKeys pads its result with zero-value keys, which
// are skipped.
func (c *Cache[V]) Len() int {
	n := 0
	for _, key := range c.entries.GetKeys() {
		if key != "" {
			n++
		}
	}
	return n
}

func (c *Cache[V]) Close() {
	c.entries.Close()
}

func (c *Cache[V]) expired(e Entry[V]) bool {
	return c.now().Sub(e.StoredAt) >= c.ttl
}
