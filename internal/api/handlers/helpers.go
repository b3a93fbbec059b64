// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/debrid"
	"github.com/autobrr/gamedrop/internal/services/downloads"
	"github.com/autobrr/gamedrop/internal/services/search"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	var apiErr *debrid.APIError

	switch {
	case errors.Is(err, downloads.ErrEmptyTitle),
		errors.Is(err, downloads.ErrInvalidCandidate),
		errors.Is(err, models.ErrInvalidProvider),
		errors.Is(err, debrid.ErrUnsupportedHandle):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDownloadNotFound),
		errors.Is(err, models.ErrProviderNotFound),
		errors.Is(err, search.ErrNoCandidates):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrProviderExists):
		return http.StatusConflict
	case errors.Is(err, debrid.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, debrid.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr),
		errors.Is(err, debrid.ErrTransientNetwork),
		errors.Is(err, debrid.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError writes err with its mapped status. Server errors get
// the generic fallback text so internals do not leak.
func respondServiceError(w http.ResponseWriter, err error, fallback string) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		RespondError(w, status, fallback)
		return
	}
	RespondError(w, status, err.Error())
}
