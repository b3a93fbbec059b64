// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package debrid talks to a Real-Debrid compatible REST API, usually through
// a proxy that injects the account credential.
package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/autobrr/gamedrop/internal/buildinfo"
)

const (
	defaultRequestsPerSecond = 4
	defaultRequestTimeout    = 30 * time.Second
	defaultSubmitAttempts    = 3
	maxResponseBytes         = 4 << 20
)

type Config struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	SubmitAttempts    uint
	RetryDelay        time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   uint
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid debrid base url: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	attempts := cfg.SubmitAttempts
	if attempts == 0 {
		attempts = defaultSubmitAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	return &Client{
		baseURL:    base,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		attempts:   attempts,
		retryDelay: delay,
		log:        log.Logger.With().Str("module", "debrid").Logger(),
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, form url.Values) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Connection resets, DNS failures and client timeouts all retry later.
		return nil, fmt.Errorf("%w: %s: %v", ErrTransientNetwork, endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &RateLimitError{Endpoint: endpoint, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrTransientNetwork, endpoint, resp.StatusCode)
	case resp.StatusCode >= 400:
		defer resp.Body.Close()
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}

	return resp, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, form url.Values, result any) error {
	resp, err := c.doRequest(ctx, method, endpoint, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(result); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

type addMagnetResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// AddMagnet registers a magnet and returns the remote torrent id.
func (c *Client) AddMagnet(ctx context.Context, magnet string) (string, error) {
	var res addMagnetResponse
	if err := c.call(ctx, http.MethodPost, "/torrents/addMagnet", url.Values{"magnet": {magnet}}, &res); err != nil {
		return "", fmt.Errorf("add magnet: %w", err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("add magnet: %w: empty id", ErrMalformedResponse)
	}
	return res.ID, nil
}

// SelectFiles picks files by comma separated id, or "all".
func (c *Client) SelectFiles(ctx context.Context, id, files string) error {
	if err := c.call(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(id), url.Values{"files": {files}}, nil); err != nil {
		return fmt.Errorf("select files: %w", err)
	}
	return nil
}

type TorrentInfo struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Hash     string   `json:"hash"`
	Bytes    int64    `json:"bytes"`
	Progress float64  `json:"progress"`
	Status   string   `json:"status"`
	Links    []string `json:"links"`
	Speed    int64    `json:"speed,omitempty"`
	Seeders  int      `json:"seeders,omitempty"`
}

func (c *Client) TorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var info TorrentInfo
	if err := c.call(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, fmt.Errorf("torrent info: %w", err)
	}
	return &info, nil
}

type UnrestrictedLink struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Link     string `json:"link"`
	Host     string `json:"host"`
	Download string `json:"download"`
}

func (c *Client) UnrestrictLink(ctx context.Context, link string) (*UnrestrictedLink, error) {
	var res UnrestrictedLink
	if err := c.call(ctx, http.MethodPost, "/unrestrict/link", url.Values{"link": {link}}, &res); err != nil {
		return nil, fmt.Errorf("unrestrict link: %w", err)
	}
	if res.Download == "" {
		return nil, fmt.Errorf("unrestrict link: %w: no download url", ErrMalformedResponse)
	}
	return &res, nil
}

func (c *Client) DeleteTorrent(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	return nil
}

// retry runs fn, retrying only transient network failures.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrTransientNetwork)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug().Err(err).Str("op", op).Uint("attempt", n+1).Msg("Retrying debrid request")
		}),
	)
}
