// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	apostropheReplacer = strings.NewReplacer("'", "", "’", "", "‘", "", "`", "", ":", "")
	versionTokenRe     = regexp.MustCompile(`\bv\d+(?:[._]\d+)*[a-z]?\b`)
	buildTokenRe       = regexp.MustCompile(`\bbuild[ ._-]?\d+\b`)
	drmFreeRe          = regexp.MustCompile(`\bdrm free\b`)
	noiseTokenRe       = regexp.MustCompile(`^(?:repack|cracked|crack|multi\d*|proper|gog|portable|iso|x64|x86|update|incl|dlcs|dlc|build)$`)
)

// foldAccents strips combining marks after canonical decomposition.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeText lowercases and flattens s into space separated words. Version
// and build tokens are removed before separators are split.
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = foldAccents(s)
	s = strings.ToLower(unidecode.Unidecode(s))
	s = apostropheReplacer.Replace(s)
	s = versionTokenRe.ReplaceAllString(s, " ")
	s = buildTokenRe.ReplaceAllString(s, " ")

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '&':
			return r
		default:
			return ' '
		}
	}, s)

	return strings.Join(strings.Fields(s), " ")
}

// Normalize returns the comparison form of a title or candidate name with
// release noise removed.
func Normalize(s string) string {
	words := strings.Fields(drmFreeRe.ReplaceAllString(normalizeText(s), " "))
	kept := words[:0]
	for _, w := range words {
		if noiseTokenRe.MatchString(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "and": {}, "edition": {},
}

// significantWords drops stopwords from a normalized string.
func significantWords(normalized string) []string {
	var out []string
	for _, w := range strings.Fields(normalized) {
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}
