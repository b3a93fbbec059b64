// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/gamedrop/internal/metrics"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/indexers"
)

const defaultProviderTimeout = 10 * time.Second

var ErrNoCandidates = errors.New("no candidates found")

// ProviderSource returns the providers to query for one search.
type ProviderSource func(ctx context.Context) ([]indexers.Provider, error)

// StaticProviders wraps a fixed provider list.
func StaticProviders(providers ...indexers.Provider) ProviderSource {
	return func(context.Context) ([]indexers.Provider, error) {
		return providers, nil
	}
}

// ProviderStatus is the outcome of the most recent search against a provider.
type ProviderStatus struct {
	Name      string        `json:"name"`
	OK        bool          `json:"ok"`
	Count     int           `json:"count"`
	Error     string        `json:"error,omitempty"`
	Outcome   string        `json:"outcome"`
	Elapsed   time.Duration `json:"elapsed"`
	Companion bool          `json:"companion"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// Result is a ranked search plus how each provider fared.
type Result struct {
	Candidates []models.SearchCandidate `json:"candidates"`
	Providers  []ProviderStatus         `json:"providers"`
}

type Aggregator struct {
	source         ProviderSource
	scorer         *Scorer
	filter         *Filter
	limiter        *indexers.RateLimiter
	metrics        *metrics.Metrics
	defaultTimeout time.Duration
	log            zerolog.Logger

	mu         sync.RWMutex
	lastStatus map[string]ProviderStatus
}

type AggregatorConfig struct {
	Source         ProviderSource
	Scorer         *Scorer
	Filter         *Filter
	Limiter        *indexers.RateLimiter
	Metrics        *metrics.Metrics
	DefaultTimeout time.Duration
}

func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Source == nil {
		return nil, errors.New("provider source is required")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewScorer(DefaultWeights(), nil)
	}
	if cfg.Filter == nil {
		f, err := NewFilter(DefaultFilterConfig(), cfg.Scorer)
		if err != nil {
			return nil, err
		}
		cfg.Filter = f
	}
	if cfg.Limiter == nil {
		cfg.Limiter = indexers.NewRateLimiter()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultProviderTimeout
	}

	return &Aggregator{
		source:         cfg.Source,
		scorer:         cfg.Scorer,
		filter:         cfg.Filter,
		limiter:        cfg.Limiter,
		metrics:        cfg.Metrics,
		defaultTimeout: cfg.DefaultTimeout,
		log:            log.Logger.With().Str("module", "search").Logger(),
		lastStatus:     make(map[string]ProviderStatus),
	}, nil
}

func (a *Aggregator) Scorer() *Scorer { return a.scorer }

// sortProviders puts companions first, then higher priority, then name.
func sortProviders(providers []indexers.Provider) []indexers.Provider {
	out := append([]indexers.Provider(nil), providers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Companion != out[j].Companion {
			return out[i].Companion
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return strings.ToLower(out[i].Name()) < strings.ToLower(out[j].Name())
	})
	return out
}

func (a *Aggregator) providers(ctx context.Context) []indexers.Provider {
	providers, err := a.source(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to load providers")
		return nil
	}
	return sortProviders(providers)
}

// Search queries every provider and returns ranked candidates. It never fails;
// a failing provider contributes nothing.
func (a *Aggregator) Search(ctx context.Context, title string) []models.SearchCandidate {
	return a.SearchWithStatus(ctx, title).Candidates
}

func (a *Aggregator) SearchWithStatus(ctx context.Context, title string) Result {
	title = strings.TrimSpace(title)
	if title == "" {
		return Result{}
	}

	providers := a.providers(ctx)
	results := make([][]models.SearchCandidate, len(providers))
	statuses := make([]ProviderStatus, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i], statuses[i] = a.runProvider(ctx, p, title)
			return nil
		})
	}
	_ = g.Wait()

	var all []models.SearchCandidate
	for _, r := range results {
		all = append(all, r...)
	}

	a.scorer.Score(title, all)
	ranked := a.filter.Apply(all)

	a.logSummary(title, statuses, len(all), len(ranked))
	return Result{Candidates: ranked, Providers: statuses}
}

type providerResult struct {
	index      int
	candidates []models.SearchCandidate
	status     ProviderStatus
}

// QuickPick returns the first good candidate. Companion providers are
// consulted first, in priority order, and the first one holding a candidate
// at or above the quick pick threshold wins without waiting for the rest.
// Otherwise it falls back to the full ranking.
func (a *Aggregator) QuickPick(ctx context.Context, title string) (*models.SearchCandidate, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrNoCandidates
	}

	providers := a.providers(ctx)
	if len(providers) == 0 {
		return nil, ErrNoCandidates
	}

	// Providers keep running after an early return so their status is recorded.
	runCtx := context.WithoutCancel(ctx)
	resultsCh := make(chan providerResult, len(providers))
	for i, p := range providers {
		go func() {
			candidates, status := a.runProvider(runCtx, p, title)
			resultsCh <- providerResult{index: i, candidates: candidates, status: status}
		}()
	}

	threshold := a.scorer.Weights().QuickPickThreshold
	done := make([]*providerResult, len(providers))
	next := 0

	for received := 0; received < len(providers); received++ {
		var res providerResult
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-resultsCh:
		}
		done[res.index] = &res

		// Walk companions in order as long as each has finished.
		for next < len(providers) && providers[next].Companion && done[next] != nil {
			batch := append([]models.SearchCandidate(nil), done[next].candidates...)
			next++

			a.scorer.Score(title, batch)
			ranked := a.filter.Apply(batch)
			if len(ranked) > 0 && ranked[0].RelevanceScore >= threshold {
				best := ranked[0]
				a.log.Debug().
					Str("title", title).
					Str("provider", best.SourceProvider).
					Float64("relevance", best.RelevanceScore).
					Msg("Quick pick satisfied by companion provider")
				return &best, nil
			}
		}
	}

	var all []models.SearchCandidate
	statuses := make([]ProviderStatus, 0, len(done))
	for _, r := range done {
		all = append(all, r.candidates...)
		statuses = append(statuses, r.status)
	}
	a.scorer.Score(title, all)
	ranked := a.filter.Apply(all)
	a.logSummary(title, statuses, len(all), len(ranked))

	if len(ranked) == 0 {
		return nil, ErrNoCandidates
	}
	best := ranked[0]
	return &best, nil
}

func (a *Aggregator) runProvider(ctx context.Context, p indexers.Provider, title string) (candidates []models.SearchCandidate, status ProviderStatus) {
	name := p.Name()
	start := time.Now()
	status = ProviderStatus{Name: name, Companion: p.Companion}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in provider search: %v", r)
			a.log.Error().Err(err).Str("provider", name).Msg("Recovered from panic in provider search")
			candidates = nil
			status.OK = false
			status.Count = 0
			status.Outcome = "panic"
			status.Error = err.Error()
		}
		status.Elapsed = time.Since(start)
		status.CheckedAt = time.Now()
		a.metrics.ObserveProviderSearch(name, status.Outcome, status.Elapsed)
		a.recordStatus(status)
	}()

	if inCooldown, resumeAt := a.limiter.IsInCooldown(name); inCooldown {
		a.log.Warn().
			Str("provider", name).
			Time("resume_at", resumeAt.In(time.Local)).
			Msg("Skipping rate-limited provider for search")
		status.Outcome = "cooldown"
		status.Error = fmt.Sprintf("%s until %s", indexers.ErrProviderCooldown, resumeAt.Format(time.RFC3339))
		return nil, status
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = a.defaultTimeout
	}
	searchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := p.Search(searchCtx, title)
	if err != nil {
		status.Outcome = a.classify(name, err)
		status.Error = err.Error()
		a.log.Warn().Err(err).Str("provider", name).Str("outcome", status.Outcome).Msg("Provider search failed")
		return nil, status
	}

	a.limiter.RecordSuccess(name)
	for i := range found {
		if found[i].SourceProvider == "" {
			found[i].SourceProvider = name
		}
		found[i].Priority = p.Priority
	}

	status.OK = true
	status.Outcome = "ok"
	status.Count = len(found)
	return found, status
}

func (a *Aggregator) classify(name string, err error) string {
	switch {
	case errors.Is(err, indexers.ErrRateLimited):
		var retryAfter time.Duration
		var httpErr *indexers.HTTPError
		if errors.As(err, &httpErr) {
			retryAfter = httpErr.RetryAfter
		}
		cooldown := a.limiter.RecordFailure(name, retryAfter)
		a.log.Warn().Str("provider", name).Dur("cooldown", cooldown).Msg("Provider rate limited, cooling down")
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, indexers.ErrTransientNetwork):
		return "transient"
	case errors.Is(err, indexers.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func (a *Aggregator) recordStatus(s ProviderStatus) {
	a.mu.Lock()
	a.lastStatus[s.Name] = s
	a.mu.Unlock()
}

// ProviderStatuses returns the last known outcome per provider, sorted by name.
func (a *Aggregator) ProviderStatuses() []ProviderStatus {
	a.mu.RLock()
	out := make([]ProviderStatus, 0, len(a.lastStatus))
	for _, s := range a.lastStatus {
		out = append(out, s)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *Aggregator) logSummary(title string, statuses []ProviderStatus, raw, kept int) {
	var failed, timedOut int
	for _, s := range statuses {
		switch {
		case s.Outcome == "timeout":
			timedOut++
		case !s.OK:
			failed++
		}
	}

	if failed > 0 || timedOut > 0 {
		a.log.Warn().
			Str("title", title).
			Int("providers_requested", len(statuses)).
			Int("providers_failed", failed).
			Int("providers_timed_out", timedOut).
			Msg("Some providers failed or timed out during search")
	}

	a.log.Debug().
		Str("title", title).
		Int("providers_requested", len(statuses)).
		Int("candidates_raw", raw).
		Int("candidates_kept", kept).
		Msg("Search completion summary")
}
