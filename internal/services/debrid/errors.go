// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRateLimited       = errors.New("debrid rate limited")
	ErrTransientNetwork  = errors.New("debrid transient network error")
	ErrMalformedResponse = errors.New("debrid malformed response")
	ErrNotConfigured     = errors.New("debrid client is not configured")
	ErrUnsupportedHandle = errors.New("unsupported acquisition handle")
)

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the
// server did not say how long to wait.
type RateLimitError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("debrid rate limited on %s, retry after %s", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("debrid rate limited on %s", e.Endpoint)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ResolutionError means the remote service gave up on the item.
type ResolutionError struct {
	ID     string
	Status string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("remote resolution failed: %s reported status %q", e.ID, e.Status)
}

// APIError is a non-retryable error response.
type APIError struct {
	StatusCode int
	Code       int    `json:"error_code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("debrid api error %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("debrid api error %d", e.StatusCode)
}

// IsRetryable reports whether err is worth another attempt later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrRateLimited)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
