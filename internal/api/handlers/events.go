// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/services/monitor"
)

const (
	eventBuffer       = 64
	keepaliveInterval = 15 * time.Second
)

type EventSource interface {
	Subscribe(buffer int) (<-chan monitor.Update, func())
}

type EventsHandler struct {
	source  EventSource
	records DownloadReader
}

func NewEventsHandler(source EventSource, records DownloadReader) *EventsHandler {
	return &EventsHandler{source: source, records: records}
}

// Stream godoc
// @Summary Stream record updates as Server-Sent Events
// @Tags events
// @Produce text/event-stream
// @Security ApiKeyAuth
// @Router /api/events [get]
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	// Subscribe before the snapshot so nothing falls between the two.
	updates, unsubscribe := h.source.Subscribe(eventBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, rec := range h.records.List() {
		if err := writeEvent(w, "download", rec); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			var err error
			if u.Removed {
				err = writeEvent(w, "removed", map[string]string{"id": u.RecordID})
			} else if u.Record != nil {
				err = writeEvent(w, "download", u.Record)
			}
			if err != nil {
				log.Debug().Err(err).Msg("Event stream closed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
