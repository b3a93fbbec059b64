// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/cespare/xxhash/v2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
)

const (
	defaultMinSizeBytes = 10 << 20
	defaultMaxSizeBytes = 200 << 30
	defaultMinRelevance = 40
	defaultMaxResults   = 50
)

type FilterConfig struct {
	MinSizeBytes int64
	MaxSizeBytes int64
	MinRelevance float64
	MaxResults   int
	// Expression is an optional boolean expr-lang program evaluated against
	// each candidate, e.g. `Seeders > 5 && SizeBytes < 50e9`.
	Expression string
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinSizeBytes: defaultMinSizeBytes,
		MaxSizeBytes: defaultMaxSizeBytes,
		MinRelevance: defaultMinRelevance,
		MaxResults:   defaultMaxResults,
	}
}

// Filter drops unusable candidates, dedups by content and sorts the rest.
type Filter struct {
	cfg     FilterConfig
	program *vm.Program
	scorer  *Scorer
}

func NewFilter(cfg FilterConfig, scorer *Scorer) (*Filter, error) {
	def := DefaultFilterConfig()
	if cfg.MinSizeBytes <= 0 {
		cfg.MinSizeBytes = def.MinSizeBytes
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = def.MaxSizeBytes
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = def.MinRelevance
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}

	f := &Filter{cfg: cfg, scorer: scorer}

	if expression := strings.TrimSpace(cfg.Expression); expression != "" {
		program, err := expr.Compile(expression, expr.Env(models.SearchCandidate{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile candidate filter: %w", err)
		}
		f.program = program
	}
	return f, nil
}

// Apply returns the surviving candidates, best first. The input is not modified.
func (f *Filter) Apply(candidates []models.SearchCandidate) []models.SearchCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.SearchCandidate, 0, len(candidates))

	for _, c := range candidates {
		if !f.keep(c) {
			continue
		}

		key := DedupKey(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if c.InfoHash == "" && strings.HasPrefix(key, "btih:") {
			c.InfoHash = strings.TrimPrefix(key, "btih:")
		}
		out = append(out, c)
	}

	SortCandidates(out)

	if len(out) > f.cfg.MaxResults {
		out = out[:f.cfg.MaxResults]
	}
	return out
}

func (f *Filter) keep(c models.SearchCandidate) bool {
	if strings.TrimSpace(c.DisplayName) == "" || strings.TrimSpace(c.AcquisitionHandle) == "" {
		return false
	}
	if c.SizeBytes > 0 && (c.SizeBytes < f.cfg.MinSizeBytes || c.SizeBytes > f.cfg.MaxSizeBytes) {
		return false
	}
	if c.RelevanceScore <= f.cfg.MinRelevance && !f.groupException(c) {
		return false
	}
	if f.program != nil {
		result, err := expr.Run(f.program, c)
		if err != nil {
			log.Debug().Err(err).Str("candidate", c.DisplayName).Msg("Candidate filter expression failed")
			return false
		}
		if ok, _ := result.(bool); !ok {
			return false
		}
	}
	return true
}

// groupException keeps low-scoring names that still matched the whole title
// and follow a known release-group naming convention.
func (f *Filter) groupException(c models.SearchCandidate) bool {
	if f.scorer == nil {
		return false
	}
	switch c.MatchType {
	case models.MatchTypeExact, models.MatchTypeVariation, models.MatchTypePrefix,
		models.MatchTypeAllWords, models.MatchTypeSubstring:
		return f.scorer.IsReleaseGroupName(c.DisplayName)
	}
	return false
}

// SortCandidates orders by relevance, then quality, then seeders. Ties keep input order.
func SortCandidates(candidates []models.SearchCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		return a.Seeders > b.Seeders
	})
}

var btihRe = regexp.MustCompile(`(?i)xt=urn:btih:([0-9a-f]{40}|[a-z2-7]{32})`)

// DedupKey identifies a candidate's content: the info hash for magnets and a
// hash of the canonical URL for direct links.
func DedupKey(c models.SearchCandidate) string {
	if c.InfoHash != "" {
		return "btih:" + strings.ToLower(c.InfoHash)
	}
	if c.IsMagnet() {
		if hash := magnetInfoHash(c.AcquisitionHandle); hash != "" {
			return "btih:" + hash
		}
	}
	return "url:" + strconv.FormatUint(xxhash.Sum64String(canonicalURL(c.AcquisitionHandle)), 16)
}

// magnetInfoHash returns the lowercase hex BTIH of a magnet URI.
func magnetInfoHash(uri string) string {
	uri = strings.TrimSpace(uri)
	if m, err := metainfo.ParseMagnetUri(uri); err == nil {
		return strings.ToLower(m.InfoHash.HexString())
	}

	match := btihRe.FindStringSubmatch(uri)
	if match == nil {
		return ""
	}
	raw := match[1]
	if len(raw) == 40 {
		return strings.ToLower(raw)
	}
	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(raw))
	if err != nil {
		return ""
	}
	return hex.EncodeToString(decoded)
}

// canonicalURL lowercases scheme and host, drops fragments and sorts the query.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String()
}
