// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/autobrr/gamedrop/internal/models"
)

// pcGamesCategory is the newznab category for PC games.
const pcGamesCategory = "4000"

type torznabRSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string        `xml:"title"`
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

type torznabItem struct {
	Title     string `xml:"title"`
	Link      string `xml:"link"`
	GUID      string `xml:"guid"`
	Size      string `xml:"size"`
	Enclosure struct {
		URL    string `xml:"url,attr"`
		Length string `xml:"length,attr"`
	} `xml:"enclosure"`
	Attrs []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"attr"`
}

type torznabError struct {
	XMLName     xml.Name `xml:"error"`
	Code        string   `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// Torznab queries a Jackett/Prowlarr style aggregate endpoint.
type Torznab struct {
	name    string
	baseURL string
	apiKey  string
	http    *httpClient
}

func NewTorznab(name, baseURL, apiKey string, client *httpClient) *Torznab {
	return &Torznab{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

func (t *Torznab) Name() string { return t.name }

func (t *Torznab) Search(ctx context.Context, title string) ([]models.SearchCandidate, error) {
	params := url.Values{}
	params.Set("t", "search")
	params.Set("q", title)
	params.Set("cat", pcGamesCategory)
	if t.apiKey != "" {
		params.Set("apikey", t.apiKey)
	}

	endpoint := t.baseURL
	if !strings.HasSuffix(endpoint, "/api") {
		endpoint += "/api"
	}

	data, err := t.http.get(ctx, endpoint+"?"+params.Encode(), "application/rss+xml, application/xml")
	if err != nil {
		return nil, err
	}
	return parseTorznab(t.name, data)
}

func parseTorznab(provider string, data []byte) ([]models.SearchCandidate, error) {
	var apiErr torznabError
	if xml.Unmarshal(data, &apiErr) == nil && apiErr.XMLName.Local == "error" {
		if strings.Contains(strings.ToLower(apiErr.Description), "limit") {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Description)
		}
		return nil, fmt.Errorf("%w: torznab error %s: %s", ErrMalformedResponse, apiErr.Code, apiErr.Description)
	}

	var rss torznabRSS
	if err := xml.Unmarshal(data, &rss); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	candidates := make([]models.SearchCandidate, 0, len(rss.Channel.Items))
	for _, item := range rss.Channel.Items {
		c := models.SearchCandidate{
			DisplayName:    strings.TrimSpace(item.Title),
			SourceProvider: provider,
		}

		if size, err := strconv.ParseInt(strings.TrimSpace(item.Size), 10, 64); err == nil {
			c.SizeBytes = size
		} else if size, err := strconv.ParseInt(item.Enclosure.Length, 10, 64); err == nil {
			c.SizeBytes = size
		}

		var peers int
		var magnet string
		for _, attr := range item.Attrs {
			switch strings.ToLower(strings.TrimSpace(attr.Name)) {
			case "seeders":
				c.Seeders, _ = strconv.Atoi(attr.Value)
			case "peers":
				peers, _ = strconv.Atoi(attr.Value)
			case "leechers":
				c.Leechers, _ = strconv.Atoi(attr.Value)
			case "magneturl":
				magnet = attr.Value
			case "infohash":
				c.InfoHash = strings.ToLower(attr.Value)
			case "size":
				if c.SizeBytes == 0 {
					c.SizeBytes, _ = strconv.ParseInt(attr.Value, 10, 64)
				}
			}
		}
		if c.Leechers == 0 && peers > c.Seeders {
			c.Leechers = peers - c.Seeders
		}

		switch {
		case magnet != "":
			c.AcquisitionHandle = magnet
		case item.Enclosure.URL != "":
			c.AcquisitionHandle = item.Enclosure.URL
		default:
			c.AcquisitionHandle = strings.TrimSpace(item.Link)
		}

		candidates = append(candidates, c)
	}
	return candidates, nil
}
