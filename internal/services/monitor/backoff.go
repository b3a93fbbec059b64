// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import "time"

// BackoffPolicy grows a delay geometrically up to Max. The zero value of the
// current delay means no backoff is active.
type BackoffPolicy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64

	current time.Duration
}

func NewBackoffPolicy(initial, max time.Duration, factor float64) *BackoffPolicy {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	if max < initial {
		max = initial
	}
	if factor < 1 {
		factor = 2
	}
	return &BackoffPolicy{Initial: initial, Max: max, Factor: factor}
}

// Next advances the policy and returns the new delay.
func (b *BackoffPolicy) Next() time.Duration {
	if b.current <= 0 {
		b.current = b.Initial
		return b.current
	}
	next := time.Duration(float64(b.current) * b.Factor)
	if next > b.Max || next <= 0 {
		next = b.Max
	}
	b.current = next
	return b.current
}

func (b *BackoffPolicy) Reset() {
	b.current = 0
}

func (b *BackoffPolicy) Current() time.Duration {
	return b.current
}
