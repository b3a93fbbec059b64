// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrRateLimited       = errors.New("provider rate limited")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrProviderCooldown  = errors.New("provider in cooldown")
)

// HTTPError preserves the status code of a failed provider request.
type HTTPError struct {
	StatusCode int
	URL        string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.IsRateLimited()
	case ErrTransientNetwork:
		return e.StatusCode >= http.StatusInternalServerError
	}
	_, ok := target.(*HTTPError)
	return ok
}

// IsRateLimited returns true if this error indicates rate limiting (HTTP 429).
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

var rateLimitTokens = []string{"429", "rate limit", "too many requests"}

var retryAfterRegex = regexp.MustCompile(`retry[- ]after[^0-9]*(\d+)`)

// detectRateLimit reports whether err looks like a rate limit and any retry hint it carries.
func detectRateLimit(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.IsRateLimited() {
		return httpErr.RetryAfter, true
	}
	if errors.Is(err, ErrRateLimited) {
		return 0, true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range rateLimitTokens {
		if strings.Contains(msg, token) {
			return extractRetryAfter(msg), true
		}
	}
	return 0, false
}

func extractRetryAfter(msg string) time.Duration {
	matches := retryAfterRegex.FindStringSubmatch(msg)
	if len(matches) == 2 {
		if seconds, err := strconv.Atoi(matches[1]); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func parseRetryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// classifyTransportError wraps low-level client errors into the package taxonomy.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if _, ok := detectRateLimit(err); ok {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %w", ErrTransientNetwork, err)
}
