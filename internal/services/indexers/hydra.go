// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autobrr/gamedrop/internal/models"
)

type hydraSource struct {
	Name      string          `json:"name"`
	Downloads []hydraDownload `json:"downloads"`
}

type hydraDownload struct {
	Title      string   `json:"title"`
	URIs       []string `json:"uris"`
	FileSize   string   `json:"fileSize"`
	UploadDate string   `json:"uploadDate"`
}

// Hydra reads a community source feed and filters it locally.
type Hydra struct {
	name    string
	feedURL string
	http    *httpClient
}

func NewHydra(name, feedURL string, client *httpClient) *Hydra {
	return &Hydra{name: name, feedURL: feedURL, http: client}
}

func (h *Hydra) Name() string { return h.name }

func (h *Hydra) Search(ctx context.Context, title string) ([]models.SearchCandidate, error) {
	data, err := h.http.get(ctx, h.feedURL, "application/json")
	if err != nil {
		return nil, err
	}
	return parseHydra(h.name, data, title)
}

func parseHydra(provider string, data []byte, title string) ([]models.SearchCandidate, error) {
	var src hydraSource
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var candidates []models.SearchCandidate
	for _, d := range src.Downloads {
		if !containsAllWords(d.Title, title) {
			continue
		}
		handle := pickHydraURI(d.URIs)
		if handle == "" {
			continue
		}
		candidates = append(candidates, models.SearchCandidate{
			DisplayName:       strings.TrimSpace(d.Title),
			AcquisitionHandle: handle,
			SizeBytes:         parseHumanSize(d.FileSize),
			SourceProvider:    provider,
		})
	}
	return candidates, nil
}

// pickHydraURI prefers magnets over direct hoster links.
func pickHydraURI(uris []string) string {
	var first string
	for _, u := range uris {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(u), "magnet:") {
			return u
		}
		if first == "" {
			first = u
		}
	}
	return first
}
