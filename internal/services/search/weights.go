// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"strings"

	"github.com/autobrr/gamedrop/internal/domain"
)

// Weights holds every tunable used by relevance and quality scoring.
type Weights struct {
	SeederCap          int
	SeederWeight       float64
	RepackBonus        float64
	SizeBandBonus      float64
	SizeBandMin        int64
	SizeBandMax        int64
	VersionBonusMax    float64
	PrereleasePenalty  float64
	LanguageBonus      float64
	SequelPenalty      float64
	EditionBoost       float64
	QuickPickThreshold float64
	PreferredLanguages []string
	RepackGroups       []string
}

var defaultRepackGroups = []string{
	"FitGirl", "DODI", "ElAmigos", "KaOs", "Xatab", "GOG", "CODEX", "RUNE",
	"TENOKE", "EMPRESS", "SKIDROW", "PLAZA", "FLT", "DARKSiDERS", "TiNYiSO",
}

func DefaultWeights() Weights {
	return Weights{
		SeederCap:          50,
		SeederWeight:       0.4,
		RepackBonus:        15,
		SizeBandBonus:      5,
		SizeBandMin:        100 << 20,
		SizeBandMax:        120 << 30,
		VersionBonusMax:    10,
		PrereleasePenalty:  5,
		LanguageBonus:      3,
		SequelPenalty:      30,
		EditionBoost:       15,
		QuickPickThreshold: 80,
		PreferredLanguages: []string{"multi", "eng", "english"},
		RepackGroups:       append([]string(nil), defaultRepackGroups...),
	}
}

// WeightsFromConfig overlays non-zero config values on DefaultWeights.
func WeightsFromConfig(cfg domain.ScoringConfig) Weights {
	w := DefaultWeights()

	if cfg.SeederCap > 0 {
		w.SeederCap = cfg.SeederCap
	}
	setFloat(&w.SeederWeight, cfg.SeederWeight)
	setFloat(&w.RepackBonus, cfg.RepackBonus)
	setFloat(&w.SizeBandBonus, cfg.SizeBandBonus)
	if cfg.SizeBandMinMB > 0 {
		w.SizeBandMin = cfg.SizeBandMinMB << 20
	}
	if cfg.SizeBandMaxGB > 0 {
		w.SizeBandMax = cfg.SizeBandMaxGB << 30
	}
	setFloat(&w.VersionBonusMax, cfg.VersionBonusMax)
	setFloat(&w.PrereleasePenalty, cfg.PrereleasePenalty)
	setFloat(&w.LanguageBonus, cfg.LanguageBonus)
	setFloat(&w.SequelPenalty, cfg.SequelPenalty)
	setFloat(&w.EditionBoost, cfg.EditionBoost)
	setFloat(&w.QuickPickThreshold, cfg.QuickPickThreshold)

	if langs := cleanList(cfg.PreferredLanguages); len(langs) > 0 {
		w.PreferredLanguages = langs
	}
	if groups := cleanList(cfg.RepackGroups); len(groups) > 0 {
		w.RepackGroups = groups
	}
	return w
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
