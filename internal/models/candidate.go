// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "strings"

// MatchType is a diagnostic tag describing which relevance tier matched.
type MatchType string

const (
	MatchTypeExact     MatchType = "exact"
	MatchTypeVariation MatchType = "variation"
	MatchTypePrefix    MatchType = "prefix"
	MatchTypeAllWords  MatchType = "all_words"
	MatchTypeSubstring MatchType = "substring"
	MatchTypePartial   MatchType = "partial"
	MatchTypeNone      MatchType = "none"
)

// SearchCandidate is a single provider hit. It only lives for one search call
// unless it is chosen, in which case it is kept on the DownloadRecord.
type SearchCandidate struct {
	DisplayName       string    `json:"displayName"`
	AcquisitionHandle string    `json:"acquisitionHandle"`
	SizeBytes         int64     `json:"sizeBytes"`
	Seeders           int       `json:"seeders"`
	Leechers          int       `json:"leechers"`
	SourceProvider    string    `json:"sourceProvider"`
	QualityScore      float64   `json:"qualityScore"`
	RelevanceScore    float64   `json:"relevanceScore"`
	MatchType         MatchType `json:"matchType"`
	InfoHash          string    `json:"infoHash,omitempty"`
	Priority          int       `json:"priority"`
}

// IsMagnet reports whether the acquisition handle is a magnet URI.
func (c SearchCandidate) IsMagnet() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(c.AcquisitionHandle)), "magnet:")
}

// TotalScore is the ranking sum of relevance and quality.
func (c SearchCandidate) TotalScore() float64 {
	return c.RelevanceScore + c.QualityScore
}
