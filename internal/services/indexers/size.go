// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
)

var (
	decimalCommaRe = regexp.MustCompile(`^(\d+),(\d{1,2})\b`)
	siUnitRe       = regexp.MustCompile(`([kmgtp])b$`)
)

// parseHumanSize parses strings like "12.4 GB", "700MiB" or "2,5 GB".
// Indexers print binary sizes under SI labels, so GB is read as GiB. It
// returns 0 for anything it does not understand.
func parseHumanSize(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " ")))
	s = decimalCommaRe.ReplaceAllString(s, "$1.$2")
	s = siUnitRe.ReplaceAllString(s, "${1}ib")

	n, err := humanize.ParseBytes(s)
	if err != nil || n > math.MaxInt64 {
		return 0
	}
	return int64(n)
}

// titleWords splits s into lowercase alphanumeric words.
func titleWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsAllWords reports whether every word of query appears as a word in name.
func containsAllWords(name, query string) bool {
	words := titleWords(query)
	if len(words) == 0 {
		return false
	}
	have := make(map[string]struct{})
	for _, w := range titleWords(name) {
		have[w] = struct{}{}
	}
	for _, w := range words {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}
