// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/gamedrop/internal/models"
)

const (
	scoreExact     = 100
	scoreVariation = 90
	scorePrefix    = 80
	scoreAllWords  = 70
	scoreSubstring = 60
	scorePartial   = 50

	partialMinFraction  = 0.6
	levenshteinMaxDist  = 2
	levenshteinMinChars = 6
)

var romanValues = map[string]int{
	"ii": 2, "iii": 3, "iv": 4, "v": 5, "vi": 6, "vii": 7, "viii": 8, "ix": 9, "x": 10,
	"xi": 11, "xii": 12, "xiii": 13, "xiv": 14, "xv": 15, "xvi": 16, "xvii": 17,
	"xviii": 18, "xix": 19, "xx": 20,
}

var cardinalValues = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

var editionMarkers = []string{
	"enhanced", "definitive", "complete", "goty", "game of the year", "ultimate", "deluxe", "remastered",
}

var bareIntegerRe = regexp.MustCompile(`^\d{1,2}$`)

// RelevanceResult explains how a candidate name matched the search title.
type RelevanceResult struct {
	Score     float64
	MatchType models.MatchType
	Sequel    bool
	Edition   bool
}

// matchTier scores normalized name n against normalized title t.
func matchTier(t, n string) (float64, models.MatchType) {
	if t == "" || n == "" {
		return 0, models.MatchTypeNone
	}
	if n == t {
		return scoreExact, models.MatchTypeExact
	}
	if isNamingVariation(t, n) {
		return scoreVariation, models.MatchTypeVariation
	}
	if strings.HasPrefix(n, t+" ") {
		return scorePrefix, models.MatchTypePrefix
	}

	titleWords := significantWords(t)
	nameSet := make(map[string]struct{})
	for _, w := range strings.Fields(n) {
		nameSet[w] = struct{}{}
	}

	matched := 0
	for _, w := range titleWords {
		if _, ok := nameSet[w]; ok {
			matched++
		}
	}
	if len(titleWords) > 0 && matched == len(titleWords) {
		return scoreAllWords, models.MatchTypeAllWords
	}
	if strings.Contains(n, t) {
		return scoreSubstring, models.MatchTypeSubstring
	}
	if len(titleWords) > 0 {
		fraction := float64(matched) / float64(len(titleWords))
		if fraction > partialMinFraction {
			return scorePartial * fraction, models.MatchTypePartial
		}
	}
	return 0, models.MatchTypeNone
}

func isNamingVariation(t, n string) bool {
	if compact(t) == compact(n) {
		return true
	}
	if canonicalNumerals(t) == canonicalNumerals(n) {
		return true
	}
	if ampersandToAnd(t) == ampersandToAnd(n) {
		return true
	}
	if len(t) >= levenshteinMinChars && sameNumbers(t, n) && fuzzy.LevenshteinDistance(t, n) <= levenshteinMaxDist {
		return true
	}
	return false
}

func compact(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

// canonicalNumerals rewrites roman numerals to arabic digits.
func canonicalNumerals(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if v, ok := romanValues[w]; ok {
			words[i] = strconv.Itoa(v)
		}
	}
	return strings.Join(words, " ")
}

func ampersandToAnd(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")
	return strings.Join(strings.Fields(s), " ")
}

var sequelNoiseRes = []*regexp.Regexp{
	regexp.MustCompile(`\bv?\d+(?:\.\d+)+[a-z]?\b`),
	regexp.MustCompile(`\bmulti\s?\d+\b`),
	regexp.MustCompile(`\b\d+\s?dlcs?\b`),
	regexp.MustCompile(`\b\d+\s?(?:gb|mb|gib|mib)\b`),
	buildTokenRe,
	versionTokenRe,
}

// sequelNumbers collects sequel markers from a raw name: roman numerals,
// cardinal words and bare integers. Dotted versions, build numbers and
// language/DLC counts and sizes are removed first.
func sequelNumbers(raw string) map[int]struct{} {
	s := strings.ToLower(raw)
	for _, re := range sequelNoiseRes {
		s = re.ReplaceAllString(s, " ")
	}

	out := make(map[int]struct{})
	for _, tok := range titleTokens(s) {
		if v, ok := romanValues[tok]; ok {
			out[v] = struct{}{}
			continue
		}
		if v, ok := cardinalValues[tok]; ok {
			out[v] = struct{}{}
			continue
		}
		if bareIntegerRe.MatchString(tok) {
			if v, err := strconv.Atoi(tok); err == nil && v >= 1 && v <= 99 {
				out[v] = struct{}{}
			}
		}
	}
	return out
}

func titleTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sameNumbers reports whether a and b mention the same set of numbers once
// roman numerals are rewritten.
func sameNumbers(a, b string) bool {
	collect := func(s string) map[string]struct{} {
		out := make(map[string]struct{})
		for _, w := range strings.Fields(canonicalNumerals(s)) {
			if containsDigit(w) {
				out[w] = struct{}{}
			}
		}
		return out
	}
	na, nb := collect(a), collect(b)
	if len(na) != len(nb) {
		return false
	}
	for k := range na {
		if _, ok := nb[k]; !ok {
			return false
		}
	}
	return true
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}

// hasSequelMarker reports whether name carries a sequel number that title lacks.
func hasSequelMarker(title, name string) bool {
	if containsDigit(title) {
		return false
	}
	have := sequelNumbers(title)
	for v := range sequelNumbers(name) {
		if _, ok := have[v]; !ok {
			return true
		}
	}
	return false
}

func hasEditionMarker(normalizedTitle, normalizedName string) bool {
	padded := " " + normalizedName + " "
	paddedTitle := " " + normalizedTitle + " "
	for _, m := range editionMarkers {
		needle := " " + m + " "
		if strings.Contains(padded, needle) && !strings.Contains(paddedTitle, needle) {
			return true
		}
	}
	return false
}

// Relevance scores how well name answers a search for title.
func Relevance(title, name string, w Weights) RelevanceResult {
	t := Normalize(title)
	n := Normalize(name)

	score, matchType := matchTier(t, n)
	res := RelevanceResult{Score: score, MatchType: matchType}
	if matchType == models.MatchTypeNone {
		return res
	}

	if hasSequelMarker(title, name) {
		res.Sequel = true
		res.Score -= w.SequelPenalty
	}
	if hasEditionMarker(t, n) {
		res.Edition = true
		res.Score += w.EditionBoost
	}

	if res.Score < 0 {
		res.Score = 0
	}
	if res.Score > scoreExact {
		res.Score = scoreExact
	}
	return res
}
