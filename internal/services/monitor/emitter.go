// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package monitor

import (
	"sync"

	"github.com/autobrr/gamedrop/internal/models"
)

// Update is one change to a download record. Record is a snapshot taken after
// the change and is nil when the record was removed.
type Update struct {
	RecordID string                 `json:"recordId"`
	Fields   []string               `json:"fields"`
	Record   *models.DownloadRecord `json:"record,omitempty"`
	Removed  bool                   `json:"removed,omitempty"`
}

// Emitter fans updates out to subscribers. A subscriber that falls behind
// loses its oldest queued update, never the newest one.
type Emitter struct {
	mu   sync.RWMutex
	subs map[chan Update]struct{}
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[chan Update]struct{})}
}

// Subscribe registers a channel with the given buffer. The returned func
// unsubscribes and closes the channel; calling it twice is safe.
func (e *Emitter) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	e.mu.Lock()
	e.subs[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *Emitter) Publish(u Update) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for ch := range e.subs {
		deliver(ch, u)
	}
}

func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

func deliver(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		// Full: drop the oldest and try again.
		select {
		case <-ch:
		default:
		}
	}
}
