// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/search"
)

type Searcher interface {
	SearchWithStatus(ctx context.Context, title string) search.Result
}

type SearchHandler struct {
	searcher Searcher
}

func NewSearchHandler(searcher Searcher) *SearchHandler {
	return &SearchHandler{searcher: searcher}
}

// Search godoc
// @Summary Search every enabled provider
// @Tags search
// @Produce json
// @Param q query string true "Game title"
// @Success 200 {object} search.Result
// @Failure 400 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/search [get]
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		RespondError(w, http.StatusBadRequest, "Query parameter q is required")
		return
	}

	result := h.searcher.SearchWithStatus(r.Context(), query)
	if result.Candidates == nil {
		result.Candidates = []models.SearchCandidate{}
	}

	log.Debug().Str("query", query).Int("candidates", len(result.Candidates)).Msg("Search served")

	RespondJSON(w, http.StatusOK, result)
}
