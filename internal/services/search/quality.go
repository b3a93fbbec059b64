// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	goversion "github.com/hashicorp/go-version"
	"github.com/moistari/rls"
)

// versionKind separates version schemes that cannot be compared with each other.
type versionKind int

const (
	versionNone versionKind = iota
	versionSemantic
	versionBuildNumber
	versionDate
	versionBuild
)

type detectedVersion struct {
	kind       versionKind
	semantic   *semver.Version
	build      *goversion.Version
	number     int64
	prerelease bool
}

var (
	dateVersionRe   = regexp.MustCompile(`\b(20\d{2})[.\-]?(0[1-9]|1[0-2])[.\-]?(0[1-9]|[12]\d|3[01])\b`)
	fourPartRe      = regexp.MustCompile(`\bv?(\d+\.\d+\.\d+\.\d+)\b`)
	semverRe        = regexp.MustCompile(`\bv?(\d+\.\d+(?:\.\d+)?(?:-(?:alpha|beta|rc|pre|preview|dev)[.\d]*)?)\b`)
	buildNumberRe   = regexp.MustCompile(`\bbuild[ ._-]?(\d+)\b`)
	prereleaseMarks = []string{"alpha", "beta", "early access", "preview", "demo"}
)

// detectVersion pulls the most specific version token out of a candidate name.
func detectVersion(name string) detectedVersion {
	lower := strings.ToLower(name)

	if m := dateVersionRe.FindStringSubmatch(lower); m != nil {
		n, err := strconv.ParseInt(m[1]+m[2]+m[3], 10, 64)
		if err == nil {
			return detectedVersion{kind: versionDate, number: n}
		}
	}

	if m := fourPartRe.FindStringSubmatch(lower); m != nil {
		if v, err := goversion.NewVersion(m[1]); err == nil {
			return detectedVersion{kind: versionBuildNumber, build: v, prerelease: v.Prerelease() != ""}
		}
	}

	if m := semverRe.FindStringSubmatch(lower); m != nil {
		if v, err := semver.NewVersion(m[1]); err == nil {
			return detectedVersion{kind: versionSemantic, semantic: v, prerelease: v.Prerelease() != "" || hasPrereleaseMark(lower)}
		}
	}

	if m := buildNumberRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return detectedVersion{kind: versionBuild, number: n}
		}
	}

	return detectedVersion{kind: versionNone, prerelease: hasPrereleaseMark(lower)}
}

func hasPrereleaseMark(lower string) bool {
	padded := " " + strings.Join(titleTokens(lower), " ") + " "
	for _, m := range prereleaseMarks {
		if strings.Contains(padded, " "+m+" ") {
			return true
		}
	}
	return false
}

func compareVersions(a, b detectedVersion) int {
	switch a.kind {
	case versionSemantic:
		return a.semantic.Compare(b.semantic)
	case versionBuildNumber:
		return a.build.Compare(b.build)
	default:
		switch {
		case a.number < b.number:
			return -1
		case a.number > b.number:
			return 1
		}
		return 0
	}
}

// versionBonuses ranks versions of the same scheme against each other. The
// newest version in a scheme earns the full bonus, older ones a share of it.
func versionBonuses(versions []detectedVersion, w Weights) []float64 {
	bonuses := make([]float64, len(versions))

	byKind := make(map[versionKind][]int)
	for i, v := range versions {
		if v.kind != versionNone {
			byKind[v.kind] = append(byKind[v.kind], i)
		}
	}

	for _, idxs := range byKind {
		sorted := append([]int(nil), idxs...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return compareVersions(versions[sorted[i]], versions[sorted[j]]) < 0
		})

		// Equal versions share a rank.
		rank := 0
		ranks := make(map[int]int, len(sorted))
		for pos, idx := range sorted {
			if pos > 0 && compareVersions(versions[sorted[pos-1]], versions[idx]) != 0 {
				rank++
			}
			ranks[idx] = rank
		}
		distinct := rank + 1

		for _, idx := range idxs {
			bonuses[idx] = w.VersionBonusMax * float64(ranks[idx]+1) / float64(distinct)
		}
	}

	for i, v := range versions {
		if v.prerelease {
			bonuses[i] -= w.PrereleasePenalty
		}
	}
	return bonuses
}

// repackGroup returns the recognized group for a name, if any.
func repackGroup(release *rls.Release, name string, groups []string) string {
	if release != nil && release.Group != "" {
		for _, g := range groups {
			if strings.EqualFold(release.Group, g) {
				return g
			}
		}
	}

	tokens := titleTokens(strings.ToLower(name))
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	for _, g := range groups {
		if _, ok := set[strings.ToLower(g)]; ok {
			return g
		}
	}
	return ""
}

func hasPreferredLanguage(release *rls.Release, name string, preferred []string) bool {
	if len(preferred) == 0 {
		return false
	}
	want := make(map[string]struct{}, len(preferred))
	for _, l := range preferred {
		want[strings.ToLower(l)] = struct{}{}
	}

	if release != nil {
		for _, l := range release.Language {
			if _, ok := want[strings.ToLower(l)]; ok {
				return true
			}
		}
	}
	for _, tok := range titleTokens(strings.ToLower(name)) {
		if strings.HasPrefix(tok, "multi") {
			tok = "multi"
		}
		if _, ok := want[tok]; ok {
			return true
		}
	}
	return false
}

// baseQuality covers every quality component that does not depend on other candidates.
func baseQuality(release *rls.Release, name string, sizeBytes int64, seeders int, w Weights) float64 {
	score := 0.0

	s := seeders
	if s > w.SeederCap {
		s = w.SeederCap
	}
	if s > 0 {
		score += float64(s) * w.SeederWeight
	}

	if repackGroup(release, name, w.RepackGroups) != "" {
		score += w.RepackBonus
	}

	if sizeBytes > 0 && sizeBytes >= w.SizeBandMin && sizeBytes <= w.SizeBandMax {
		score += w.SizeBandBonus
	}

	if hasPreferredLanguage(release, name, w.PreferredLanguages) {
		score += w.LanguageBonus
	}

	return score
}
