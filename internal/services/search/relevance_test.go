// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autobrr/gamedrop/internal/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "punctuation", input: "Foo: Bar!", expected: "foo bar"},
		{name: "apostrophe", input: "Assassin's Creed", expected: "assassins creed"},
		{name: "accents", input: "Pokémon Café", expected: "pokemon cafe"},
		{name: "scene dots", input: "Foo.Bar.v1.2.3-GROUP", expected: "foo bar group"},
		{name: "noise tokens", input: "Foo Bar REPACK MULTI10 incl DLCs", expected: "foo bar"},
		{name: "drm free", input: "Foo Bar DRM Free", expected: "foo bar"},
		{name: "build number", input: "Foo Bar Build 1234567", expected: "foo bar"},
		{name: "ampersand kept", input: "Foo & Bar", expected: "foo & bar"},
		{name: "empty", input: "   ", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestRelevance(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name      string
		title     string
		candidate string
		score     float64
		matchType models.MatchType
		sequel    bool
	}{
		{name: "exact modulo punctuation", title: "Foo Bar", candidate: "Foo: Bar!", score: 100, matchType: models.MatchTypeExact},
		{name: "dotted scene version is not a sequel", title: "Foo Bar", candidate: "Foo.Bar.v1.2.3", score: 100, matchType: models.MatchTypeExact},
		{name: "bare dotted version is not a sequel", title: "Foo Bar", candidate: "Foo Bar 1.2.3", score: 80, matchType: models.MatchTypePrefix},
		{name: "compact spacing", title: "Foo Bar", candidate: "FooBar", score: 90, matchType: models.MatchTypeVariation},
		{name: "roman numeral equals digit", title: "Foo Bar 2", candidate: "Foo Bar II", score: 90, matchType: models.MatchTypeVariation},
		{name: "ampersand", title: "Foo and Bar", candidate: "Foo & Bar", score: 90, matchType: models.MatchTypeVariation},
		{name: "prefix", title: "Foo Bar", candidate: "Foo Bar Soundtrack", score: 80, matchType: models.MatchTypePrefix},
		{name: "sequel penalty", title: "Foo Bar", candidate: "Foo Bar II", score: 50, matchType: models.MatchTypePrefix, sequel: true},
		{name: "cardinal sequel", title: "Foo Bar", candidate: "Foo Bar Two", score: 50, matchType: models.MatchTypePrefix, sequel: true},
		{name: "numeric title skips sequel check", title: "Halo 2", candidate: "Halo 2 Anniversary", score: 80, matchType: models.MatchTypePrefix},
		{name: "different number in numeric title", title: "Halo 2", candidate: "Halo 3", score: 0, matchType: models.MatchTypeNone},
		{name: "multi language count is not a sequel", title: "Foo Bar", candidate: "Foo Bar MULTI 5", score: 80, matchType: models.MatchTypePrefix},
		{name: "all words out of order", title: "Foo Bar", candidate: "Bar of Foo", score: 70, matchType: models.MatchTypeAllWords},
		{name: "no match", title: "Foo Bar", candidate: "Something Else", score: 0, matchType: models.MatchTypeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Relevance(tt.title, tt.candidate, w)
			assert.Equal(t, tt.matchType, res.MatchType)
			assert.InDelta(t, tt.score, res.Score, 0.001)
			assert.Equal(t, tt.sequel, res.Sequel)
		})
	}
}

func TestRelevanceClamped(t *testing.T) {
	w := DefaultWeights()

	res := Relevance("Foo Bar", "Foo Bar Definitive", w)
	assert.True(t, res.Edition)
	assert.Equal(t, 95.0, res.Score)

	w.EditionBoost = 50
	res = Relevance("Foo Bar", "Foo Bar Definitive", w)
	assert.Equal(t, 100.0, res.Score)

	w.SequelPenalty = 200
	res = Relevance("Foo Bar", "Foo Bar III", w)
	assert.Equal(t, 0.0, res.Score)
}

func TestSizeIsNotASequel(t *testing.T) {
	res := Relevance("Foo Bar", "Foo Bar (16 GB)", DefaultWeights())
	assert.False(t, res.Sequel)
	assert.GreaterOrEqual(t, res.Score, 80.0)
}

func TestSequelNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []int
	}{
		{name: "roman", input: "Foo Bar III", expected: []int{3}},
		{name: "digit", input: "Foo Bar 4", expected: []int{4}},
		{name: "dotted version", input: "Foo Bar v1.0.2", expected: nil},
		{name: "build", input: "Foo Bar Build 12", expected: nil},
		{name: "dlc count", input: "Foo Bar + 12 DLCs", expected: nil},
		{name: "year is ignored", input: "Foo Bar 2019", expected: nil},
		{name: "size", input: "Foo Bar (16 GB)", expected: nil},
		{name: "size without space", input: "Foo Bar 700MiB", expected: nil},
		{name: "size beside sequel", input: "Foo Bar 2 [12GB]", expected: []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sequelNumbers(tt.input)
			assert.Len(t, got, len(tt.expected))
			for _, v := range tt.expected {
				assert.Contains(t, got, v)
			}
		})
	}
}
