// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProviderSearch("bay", "ok", time.Second)
		m.ObserveTransition("complete")
		m.ObserveRateLimit()
		m.ObserveTransientFailure()
		m.ObserveExtraction(time.Second)
		m.SetStatusCounts(map[string]int{"complete": 1})
	})
}

func TestCollectors(t *testing.T) {
	m := New()

	m.ObserveProviderSearch("bay", "ok", 200*time.Millisecond)
	m.ObserveProviderSearch("bay", "rate_limited", time.Second)
	m.ObserveRateLimit()
	m.SetStatusCounts(map[string]int{"complete": 2, "error": 1})
	m.SetStatusCounts(map[string]int{"complete": 3})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderSearches.WithLabelValues("bay", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitBackoffs))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsByStatus.WithLabelValues("complete")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RecordsByStatus))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "gamedrop_provider_searches_total")
}
