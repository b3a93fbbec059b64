// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"sync"

	"github.com/moistari/rls"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/pkg/releases"
)

// Scorer assigns relevance and quality scores to candidates.
type Scorer struct {
	mu      sync.RWMutex
	weights Weights
	parser  *releases.Parser
}

func NewScorer(w Weights, parser *releases.Parser) *Scorer {
	if parser == nil {
		parser = releases.NewDefaultParser()
	}
	return &Scorer{weights: w, parser: parser}
}

// Weights returns a copy of the active weights.
func (s *Scorer) Weights() Weights {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.weights
}

// SetWeights swaps the weights used by subsequent calls.
func (s *Scorer) SetWeights(w Weights) {
	s.mu.Lock()
	s.weights = w
	s.mu.Unlock()
}

// Score fills RelevanceScore, MatchType and QualityScore in place. Version
// bonuses are relative, so the whole batch is scored together.
func (s *Scorer) Score(title string, candidates []models.SearchCandidate) {
	w := s.Weights()

	parsed := make([]*rls.Release, len(candidates))
	versions := make([]detectedVersion, len(candidates))
	for i := range candidates {
		parsed[i] = s.parser.Parse(candidates[i].DisplayName)
		versions[i] = detectVersion(candidates[i].DisplayName)
	}
	bonuses := versionBonuses(versions, w)

	for i := range candidates {
		c := &candidates[i]
		rel := Relevance(title, c.DisplayName, w)
		c.RelevanceScore = rel.Score
		c.MatchType = rel.MatchType
		c.QualityScore = baseQuality(parsed[i], c.DisplayName, c.SizeBytes, c.Seeders, w) + bonuses[i]
	}
}

// IsReleaseGroupName reports whether name follows a recognized repack/scene
// naming convention.
func (s *Scorer) IsReleaseGroupName(name string) bool {
	w := s.Weights()
	return repackGroup(s.parser.Parse(name), name, w.RepackGroups) != ""
}
