// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/indexers"
)

type fakeAdapter struct {
	name    string
	results []models.SearchCandidate
	err     error
	panics  bool
	block   chan struct{}
	calls   atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Search(ctx context.Context, _ string) ([]models.SearchCandidate, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.SearchCandidate(nil), f.results...), nil
}

func newTestAggregator(t *testing.T, providers ...indexers.Provider) (*Aggregator, *indexers.RateLimiter) {
	t.Helper()
	limiter := indexers.NewRateLimiter()
	agg, err := NewAggregator(AggregatorConfig{
		Source:  StaticProviders(providers...),
		Scorer:  newTestScorer(t),
		Limiter: limiter,
	})
	require.NoError(t, err)
	return agg, limiter
}

func TestAggregatorSearchAbsorbsFailures(t *testing.T) {
	good := &fakeAdapter{name: "good", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar-FitGirl", AcquisitionHandle: magnet('a'), SizeBytes: 20 << 30, Seeders: 40},
		{DisplayName: "Foo Bar Soundtrack", AcquisitionHandle: magnet('b'), SizeBytes: 200 << 20, Seeders: 5},
	}}
	dup := &fakeAdapter{name: "dup", results: []models.SearchCandidate{
		{DisplayName: "Foo.Bar-FitGirl", AcquisitionHandle: magnet('a'), SizeBytes: 20 << 30, Seeders: 12},
	}}
	panicky := &fakeAdapter{name: "panicky", panics: true}
	slow := &fakeAdapter{name: "slow", block: make(chan struct{})}
	limited := &fakeAdapter{name: "limited", err: &indexers.HTTPError{StatusCode: 429, URL: "http://x", RetryAfter: 2 * time.Minute}}
	broken := &fakeAdapter{name: "broken", err: indexers.ErrMalformedResponse}
	t.Cleanup(func() { close(slow.block) })

	agg, limiter := newTestAggregator(t,
		indexers.Provider{Adapter: good, Priority: 1},
		indexers.Provider{Adapter: dup},
		indexers.Provider{Adapter: panicky},
		indexers.Provider{Adapter: slow, Timeout: 50 * time.Millisecond},
		indexers.Provider{Adapter: limited},
		indexers.Provider{Adapter: broken},
	)

	res := agg.SearchWithStatus(context.Background(), "Foo Bar")

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "Foo Bar-FitGirl", res.Candidates[0].DisplayName)
	assert.Equal(t, "good", res.Candidates[0].SourceProvider)
	assert.Equal(t, 1, res.Candidates[0].Priority)

	outcomes := make(map[string]string)
	for _, s := range res.Providers {
		outcomes[s.Name] = s.Outcome
	}
	assert.Equal(t, map[string]string{
		"good":    "ok",
		"dup":     "ok",
		"panicky": "panic",
		"slow":    "timeout",
		"limited": "rate_limited",
		"broken":  "malformed",
	}, outcomes)

	inCooldown, resumeAt := limiter.IsInCooldown("limited")
	assert.True(t, inCooldown)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), resumeAt, 5*time.Second)

	assert.Len(t, agg.ProviderStatuses(), 6)
}

func TestAggregatorRanksEditionsAndSequels(t *testing.T) {
	a := &fakeAdapter{name: "a", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar II", AcquisitionHandle: magnet('c'), SizeBytes: 8 << 30, Seeders: 10},
		{DisplayName: "Foo Bar: Definitive Edition", AcquisitionHandle: magnet('b'), SizeBytes: 8 << 30, Seeders: 10},
		{DisplayName: "Foo Bar", AcquisitionHandle: magnet('a'), SizeBytes: 8 << 30, Seeders: 10},
		{DisplayName: "Baz Qux", AcquisitionHandle: magnet('d'), SizeBytes: 8 << 30, Seeders: 10},
	}}
	agg, _ := newTestAggregator(t, indexers.Provider{Adapter: a})

	got := agg.Search(context.Background(), "Foo Bar")

	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.DisplayName)
	}
	assert.Equal(t, []string{"Foo Bar", "Foo Bar: Definitive Edition", "Foo Bar II"}, names)
	require.Len(t, got, 3)
	assert.Equal(t, 50.0, got[2].RelevanceScore)
	assert.True(t, got[2].RelevanceScore > DefaultFilterConfig().MinRelevance)
}

func TestAggregatorSkipsProvidersInCooldown(t *testing.T) {
	a := &fakeAdapter{name: "cool", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar", AcquisitionHandle: magnet('a')},
	}}
	agg, limiter := newTestAggregator(t, indexers.Provider{Adapter: a})

	limiter.RecordFailure("cool", time.Hour)

	res := agg.SearchWithStatus(context.Background(), "Foo Bar")
	assert.Empty(t, res.Candidates)
	require.Len(t, res.Providers, 1)
	assert.Equal(t, "cooldown", res.Providers[0].Outcome)
	assert.Zero(t, a.calls.Load())

	limiter.ClearCooldown("cool")
	assert.Len(t, agg.Search(context.Background(), "Foo Bar"), 1)
}

func TestAggregatorEmptyTitle(t *testing.T) {
	a := &fakeAdapter{name: "a"}
	agg, _ := newTestAggregator(t, indexers.Provider{Adapter: a})

	assert.Empty(t, agg.Search(context.Background(), "  "))
	assert.Zero(t, a.calls.Load())

	_, err := agg.QuickPick(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestSortProviders(t *testing.T) {
	providers := sortProviders([]indexers.Provider{
		{Adapter: &fakeAdapter{name: "b"}, Priority: 1},
		{Adapter: &fakeAdapter{name: "companion-low"}, Companion: true},
		{Adapter: &fakeAdapter{name: "a"}, Priority: 1},
		{Adapter: &fakeAdapter{name: "companion-high"}, Companion: true, Priority: 5},
		{Adapter: &fakeAdapter{name: "top"}, Priority: 9},
	})

	var names []string
	for _, p := range providers {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"companion-high", "companion-low", "top", "a", "b"}, names)
}

func TestQuickPickShortCircuitsOnCompanion(t *testing.T) {
	companion := &fakeAdapter{name: "companion", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar", AcquisitionHandle: magnet('a'), SizeBytes: 10 << 30},
	}}
	slow := &fakeAdapter{name: "slow", block: make(chan struct{})}
	t.Cleanup(func() { close(slow.block) })

	agg, _ := newTestAggregator(t,
		indexers.Provider{Adapter: slow, Priority: 10, Timeout: time.Minute},
		indexers.Provider{Adapter: companion, Companion: true},
	)

	done := make(chan struct{})
	var best *models.SearchCandidate
	var err error
	go func() {
		best, err = agg.QuickPick(context.Background(), "Foo Bar")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("quick pick waited for the slow provider")
	}

	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, "Foo Bar", best.DisplayName)
	assert.Equal(t, "companion", best.SourceProvider)
}

func TestQuickPickFallsBackToFullRanking(t *testing.T) {
	companion := &fakeAdapter{name: "companion", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar Two-FitGirl", AcquisitionHandle: magnet('a')},
	}}
	other := &fakeAdapter{name: "other", results: []models.SearchCandidate{
		{DisplayName: "Foo Bar", AcquisitionHandle: magnet('b')},
	}}

	agg, _ := newTestAggregator(t,
		indexers.Provider{Adapter: companion, Companion: true},
		indexers.Provider{Adapter: other},
	)

	best, err := agg.QuickPick(context.Background(), "Foo Bar")
	require.NoError(t, err)
	assert.Equal(t, "Foo Bar", best.DisplayName)
}

func TestQuickPickNoCandidates(t *testing.T) {
	failing := &fakeAdapter{name: "failing", err: errors.New("connection refused")}
	agg, _ := newTestAggregator(t, indexers.Provider{Adapter: failing})

	_, err := agg.QuickPick(context.Background(), "Foo Bar")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestQuickPickHonorsCallerCancel(t *testing.T) {
	slow := &fakeAdapter{name: "slow", block: make(chan struct{})}
	t.Cleanup(func() { close(slow.block) })
	agg, _ := newTestAggregator(t, indexers.Provider{Adapter: slow, Timeout: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := agg.QuickPick(ctx, "Foo Bar")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewAggregatorRequiresSource(t *testing.T) {
	_, err := NewAggregator(AggregatorConfig{})
	assert.Error(t, err)
}
