// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/autobrr/gamedrop/internal/buildinfo"
)

const maxResponseBytes int64 = 8 << 20 // 8 MiB safety limit for search payloads

// httpClient is shared by every HTTP-backed adapter.
type httpClient struct {
	client *http.Client
}

func newHTTPClient(client *http.Client) *httpClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpClient{client: client}
}

// get fetches rawURL and returns the decoded body. Non-2xx responses become *HTTPError.
func (c *httpClient) get(ctx context.Context, rawURL string, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        redactURL(rawURL),
			RetryAfter: parseRetryAfterHeader(resp.Header.Get("Retry-After")),
		}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxResponseBytes+1))
	if err != nil {
		if isTimeoutError(err) {
			return nil, fmt.Errorf("%w: %w", ErrTransientNetwork, err)
		}
		return nil, fmt.Errorf("%w: read body: %w", ErrMalformedResponse, err)
	}
	if int64(len(data)) > maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeded %d bytes", ErrMalformedResponse, maxResponseBytes)
	}
	return data, nil
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}

// redactURL strips query values so API keys do not end up in logs.
func redactURL(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
