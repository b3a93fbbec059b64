// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/autobrr/gamedrop/internal/models"
)

const apibayGamesCategory = "400"

var publicTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.torrent.eu.org:451/announce",
}

// apibay encodes every field as a string.
type apibayRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
	Seeders  string `json:"seeders"`
	Leechers string `json:"leechers"`
	Size     string `json:"size"`
}

type Apibay struct {
	name    string
	baseURL string
	http    *httpClient
}

func NewApibay(name, baseURL string, client *httpClient) *Apibay {
	return &Apibay{name: name, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (a *Apibay) Name() string { return a.name }

func (a *Apibay) Search(ctx context.Context, title string) ([]models.SearchCandidate, error) {
	params := url.Values{}
	params.Set("q", title)
	params.Set("cat", apibayGamesCategory)

	data, err := a.http.get(ctx, a.baseURL+"/q.php?"+params.Encode(), "application/json")
	if err != nil {
		return nil, err
	}
	return parseApibay(a.name, data)
}

func parseApibay(provider string, data []byte) ([]models.SearchCandidate, error) {
	var rows []apibayRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	candidates := make([]models.SearchCandidate, 0, len(rows))
	for _, row := range rows {
		hash := strings.ToLower(strings.TrimSpace(row.InfoHash))
		if row.ID == "0" || hash == "" || strings.Trim(hash, "0") == "" {
			continue
		}

		c := models.SearchCandidate{
			DisplayName:       strings.TrimSpace(row.Name),
			AcquisitionHandle: buildMagnet(hash, row.Name),
			InfoHash:          hash,
			SourceProvider:    provider,
		}
		c.Seeders, _ = strconv.Atoi(row.Seeders)
		c.Leechers, _ = strconv.Atoi(row.Leechers)
		c.SizeBytes, _ = strconv.ParseInt(row.Size, 10, 64)

		candidates = append(candidates, c)
	}
	return candidates, nil
}

func buildMagnet(infoHash, name string) string {
	params := url.Values{}
	params.Set("dn", name)
	for _, tr := range publicTrackers {
		params.Add("tr", tr)
	}
	return "magnet:?xt=urn:btih:" + infoHash + "&" + params.Encode()
}
