// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package releases wraps rls with a small TTL cache so repeated candidate names
// are only parsed once per search burst.
package releases

import (
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"
)

const defaultTTL = 10 * time.Minute

type Parser struct {
	cache *ttlcache.Cache[string, rls.Release]
}

func NewParser(ttl time.Duration) *Parser {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Parser{
		cache: ttlcache.New(ttlcache.Options[string, rls.Release]{}.SetDefaultTTL(ttl)),
	}
}

func NewDefaultParser() *Parser {
	return NewParser(defaultTTL)
}

// Parse returns the parsed release for name. The result is a copy and may be modified.
func (p *Parser) Parse(name string) *rls.Release {
	name = strings.TrimSpace(name)
	if name == "" {
		return &rls.Release{}
	}

	if cached, ok := p.cache.Get(name); ok {
		return &cached
	}

	release := rls.ParseString(name)
	p.cache.Set(name, release, ttlcache.DefaultTTL)
	return &release
}

func (p *Parser) Close() {
	p.cache.Close()
}
