// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexers

import (
	"sync"
	"time"
)

// escalationPeriods defines cooldowns for consecutive rate limit failures.
// Escalates with each failure and resets on success.
var escalationPeriods = []time.Duration{
	0,
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

type providerRateState struct {
	cooldownUntil   time.Time
	escalationLevel int
}

// RateLimiter tracks per-provider cooldowns. It never blocks; the aggregator
// asks it whether a provider may be queried right now.
type RateLimiter struct {
	mu     sync.Mutex
	states map[string]*providerRateState
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		states: make(map[string]*providerRateState),
		now:    time.Now,
	}
}

func (r *RateLimiter) getStateLocked(name string) *providerRateState {
	state, ok := r.states[name]
	if !ok {
		state = &providerRateState{}
		r.states[name] = state
	}
	return state
}

// RecordFailure escalates the provider's cooldown. A server supplied retryAfter
// wins when it is longer than the escalation step.
func (r *RateLimiter) RecordFailure(name string, retryAfter time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.getStateLocked(name)
	if state.escalationLevel < len(escalationPeriods)-1 {
		state.escalationLevel++
	}

	cooldown := escalationPeriods[state.escalationLevel]
	if retryAfter > cooldown {
		cooldown = retryAfter
	}
	if cooldown > 0 {
		state.cooldownUntil = r.now().Add(cooldown)
	}
	return cooldown
}

func (r *RateLimiter) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.getStateLocked(name)
	state.escalationLevel = 0
}

func (r *RateLimiter) IsInCooldown(name string) (bool, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[name]
	if !ok {
		return false, time.Time{}
	}
	if state.cooldownUntil.After(r.now()) {
		return true, state.cooldownUntil
	}
	return false, time.Time{}
}

func (r *RateLimiter) ClearCooldown(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, name)
}

// GetCooldownProviders returns providers currently cooling down and when they resume.
func (r *RateLimiter) GetCooldownProviders() map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make(map[string]time.Time)
	for name, state := range r.states {
		if state.cooldownUntil.After(now) {
			out[name] = state.cooldownUntil
		}
	}
	return out
}
