// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamedrop/internal/domain"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/pkg/releases"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	parser := releases.NewDefaultParser()
	t.Cleanup(parser.Close)
	return NewScorer(DefaultWeights(), parser)
}

func TestScorerRanksEditionsAndSequels(t *testing.T) {
	s := newTestScorer(t)

	candidates := []models.SearchCandidate{
		{DisplayName: "Foo Bar II", AcquisitionHandle: "magnet:?xt=urn:btih:" + hash40('c')},
		{DisplayName: "Foo Bar: Definitive Edition", AcquisitionHandle: "magnet:?xt=urn:btih:" + hash40('b')},
		{DisplayName: "Foo Bar", AcquisitionHandle: "magnet:?xt=urn:btih:" + hash40('a')},
	}
	s.Score("Foo Bar", candidates)

	byName := make(map[string]models.SearchCandidate)
	for _, c := range candidates {
		byName[c.DisplayName] = c
	}
	assert.Equal(t, 100.0, byName["Foo Bar"].RelevanceScore)
	assert.Equal(t, 95.0, byName["Foo Bar: Definitive Edition"].RelevanceScore)
	assert.Equal(t, 50.0, byName["Foo Bar II"].RelevanceScore)

	SortCandidates(candidates)
	assert.Equal(t, "Foo Bar", candidates[0].DisplayName)
	assert.Equal(t, "Foo Bar: Definitive Edition", candidates[1].DisplayName)
	assert.Equal(t, "Foo Bar II", candidates[2].DisplayName)
}

func TestScorerQuality(t *testing.T) {
	s := newTestScorer(t)
	w := s.Weights()

	tests := []struct {
		name     string
		better   models.SearchCandidate
		worse    models.SearchCandidate
		expected float64
	}{
		{
			name:     "repack group",
			better:   models.SearchCandidate{DisplayName: "Foo Bar-FitGirl"},
			worse:    models.SearchCandidate{DisplayName: "Foo Bar"},
			expected: w.RepackBonus,
		},
		{
			name:     "seeders",
			better:   models.SearchCandidate{DisplayName: "Foo Bar", Seeders: 20},
			worse:    models.SearchCandidate{DisplayName: "Foo Bar", Seeders: 10},
			expected: 10 * w.SeederWeight,
		},
		{
			name:     "size band",
			better:   models.SearchCandidate{DisplayName: "Foo Bar", SizeBytes: 30 << 30},
			worse:    models.SearchCandidate{DisplayName: "Foo Bar", SizeBytes: 50 << 20},
			expected: w.SizeBandBonus,
		},
		{
			name:     "preferred language",
			better:   models.SearchCandidate{DisplayName: "Foo Bar MULTI5"},
			worse:    models.SearchCandidate{DisplayName: "Foo Bar"},
			expected: w.LanguageBonus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			better := []models.SearchCandidate{tt.better}
			worse := []models.SearchCandidate{tt.worse}
			s.Score("Foo Bar", better)
			s.Score("Foo Bar", worse)
			assert.InDelta(t, tt.expected, better[0].QualityScore-worse[0].QualityScore, 0.001)
		})
	}
}

func TestSeederContributionIsCapped(t *testing.T) {
	s := newTestScorer(t)

	candidates := []models.SearchCandidate{
		{DisplayName: "Foo Bar", Seeders: 5000},
		{DisplayName: "Foo Bar", Seeders: 50},
	}
	s.Score("Foo Bar", candidates)
	assert.Equal(t, candidates[1].QualityScore, candidates[0].QualityScore)
}

func TestVersionBonuses(t *testing.T) {
	w := DefaultWeights()

	versions := []detectedVersion{
		detectVersion("Foo Bar v1.0.2"),
		detectVersion("Foo Bar v1.0.10"),
		detectVersion("Foo Bar v1.1.0 Beta"),
		detectVersion("Foo Bar Build 900"),
		detectVersion("Foo Bar"),
	}
	bonuses := versionBonuses(versions, w)

	assert.Greater(t, bonuses[1], bonuses[0], "1.0.10 is newer than 1.0.2")
	assert.InDelta(t, w.VersionBonusMax-w.PrereleasePenalty, bonuses[2], 0.001, "newest but prerelease")
	assert.InDelta(t, w.VersionBonusMax, bonuses[3], 0.001, "only build number in its scheme")
	assert.Zero(t, bonuses[4])
}

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		kind       versionKind
		prerelease bool
	}{
		{name: "semantic", input: "Foo Bar v1.2.3", kind: versionSemantic},
		{name: "four part", input: "Foo Bar 1.0.4.12", kind: versionBuildNumber},
		{name: "date", input: "Foo Bar 2024.05.17", kind: versionDate},
		{name: "build", input: "Foo Bar Build 14523", kind: versionBuild},
		{name: "semantic prerelease", input: "Foo Bar v0.9.0-beta", kind: versionSemantic, prerelease: true},
		{name: "early access", input: "Foo Bar Early Access", kind: versionNone, prerelease: true},
		{name: "none", input: "Foo Bar", kind: versionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := detectVersion(tt.input)
			assert.Equal(t, tt.kind, v.kind)
			assert.Equal(t, tt.prerelease, v.prerelease)
		})
	}
}

func TestWeightsFromConfig(t *testing.T) {
	w := WeightsFromConfig(domain.ScoringConfig{
		SeederCap:          10,
		RepackBonus:        20,
		QuickPickThreshold: 90,
		RepackGroups:       []string{" Custom ", ""},
	})

	def := DefaultWeights()
	assert.Equal(t, 10, w.SeederCap)
	assert.Equal(t, 20.0, w.RepackBonus)
	assert.Equal(t, 90.0, w.QuickPickThreshold)
	assert.Equal(t, []string{"Custom"}, w.RepackGroups)
	assert.Equal(t, def.SequelPenalty, w.SequelPenalty)
	require.Equal(t, def.PreferredLanguages, w.PreferredLanguages)
}

func TestIsReleaseGroupName(t *testing.T) {
	s := newTestScorer(t)

	assert.True(t, s.IsReleaseGroupName("Foo Bar-FitGirl"))
	assert.True(t, s.IsReleaseGroupName("Foo.Bar.v1.0-TENOKE"))
	assert.False(t, s.IsReleaseGroupName("Foo Bar"))
}

func hash40(c byte) string {
	b := make([]byte, 40)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
