// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/autobrr/gamedrop/internal/models"
)

// HTMLTable scrapes a results table where each row carries a name link, a
// magnet link and seeders/leechers/size cells.
type HTMLTable struct {
	name    string
	baseURL string
	http    *httpClient
}

func NewHTMLTable(name, baseURL string, client *httpClient) *HTMLTable {
	return &HTMLTable{name: name, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (h *HTMLTable) Name() string { return h.name }

func (h *HTMLTable) Search(ctx context.Context, title string) ([]models.SearchCandidate, error) {
	endpoint := fmt.Sprintf("%s/search/%s/1/", h.baseURL, url.PathEscape(title))
	data, err := h.http.get(ctx, endpoint, "text/html")
	if err != nil {
		return nil, err
	}
	return parseHTMLTable(h.name, data)
}

func parseHTMLTable(provider string, data []byte) ([]models.SearchCandidate, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var candidates []models.SearchCandidate
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			if c, ok := parseRow(n); ok {
				c.SourceProvider = provider
				candidates = append(candidates, c)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return candidates, nil
}

func parseRow(tr *html.Node) (models.SearchCandidate, bool) {
	var c models.SearchCandidate
	var numeric []int

	for td := tr.FirstChild; td != nil; td = td.NextSibling {
		if td.Type != html.ElementNode || td.DataAtom != atom.Td {
			continue
		}
		class := strings.ToLower(attr(td, "class"))

		for _, a := range findAll(td, atom.A) {
			href := strings.TrimSpace(attr(a, "href"))
			switch {
			case strings.HasPrefix(strings.ToLower(href), "magnet:"):
				c.AcquisitionHandle = href
			case c.DisplayName == "" && href != "":
				if text := strings.TrimSpace(textContent(a)); text != "" {
					c.DisplayName = text
				} else if t := strings.TrimSpace(attr(a, "title")); t != "" {
					c.DisplayName = t
				}
			}
		}

		text := strings.TrimSpace(directText(td))
		switch {
		case strings.Contains(class, "seed"):
			c.Seeders, _ = strconv.Atoi(text)
		case strings.Contains(class, "leech"):
			c.Leechers, _ = strconv.Atoi(text)
		case strings.Contains(class, "size"):
			c.SizeBytes = parseHumanSize(text)
		default:
			if n, err := strconv.Atoi(text); err == nil {
				numeric = append(numeric, n)
			} else if c.SizeBytes == 0 {
				c.SizeBytes = parseHumanSize(text)
			}
		}
	}

	// Unlabelled tables list seeders then leechers.
	if c.Seeders == 0 && c.Leechers == 0 && len(numeric) >= 2 {
		c.Seeders, c.Leechers = numeric[0], numeric[1]
	}

	if c.AcquisitionHandle == "" || c.DisplayName == "" {
		return c, false
	}
	return c, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == a {
			out = append(out, child)
		}
		out = append(out, findAll(child, a)...)
	}
	return out
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return sb.String()
}

// directText ignores nested elements, which some sites use for hidden counters.
func directText(n *html.Node) string {
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.TextNode {
			sb.WriteString(child.Data)
		}
	}
	return sb.String()
}
