// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
)

// Acquirer submits new downloads. *downloads.Service implements it.
type Acquirer interface {
	Acquire(ctx context.Context, title string) (*models.DownloadRecord, error)
	AcquireCandidate(ctx context.Context, title string, candidate models.SearchCandidate) (*models.DownloadRecord, error)
}

// DownloadController owns running records. *monitor.Service implements it.
type DownloadController interface {
	Cancel(ctx context.Context, id string) (*models.DownloadRecord, error)
	Remove(ctx context.Context, id string, deleteFiles bool) error
}

type DownloadReader interface {
	List() []*models.DownloadRecord
	Get(id string) (*models.DownloadRecord, error)
}

type DownloadsHandler struct {
	acquirer   Acquirer
	controller DownloadController
	records    DownloadReader
}

func NewDownloadsHandler(acquirer Acquirer, controller DownloadController, records DownloadReader) *DownloadsHandler {
	return &DownloadsHandler{
		acquirer:   acquirer,
		controller: controller,
		records:    records,
	}
}

type AcquireRequest struct {
	Title     string                  `json:"title"`
	Candidate *models.SearchCandidate `json:"candidate,omitempty"`
}

func (h *DownloadsHandler) List(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, h.records.List())
}

func (h *DownloadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.records.Get(id)
	if err != nil {
		respondServiceError(w, err, "Failed to load download")
		return
	}

	RespondJSON(w, http.StatusOK, rec)
}

// Create godoc
// @Summary Acquire a title
// @Description Picks the best candidate automatically unless one is supplied
// @Tags downloads
// @Accept json
// @Produce json
// @Param request body AcquireRequest true "Title and optional candidate"
// @Success 201 {object} models.DownloadRecord
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Security ApiKeyAuth
// @Router /api/downloads [post]
func (h *DownloadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	var (
		rec *models.DownloadRecord
		err error
	)
	if req.Candidate != nil {
		rec, err = h.acquirer.AcquireCandidate(r.Context(), req.Title, *req.Candidate)
	} else {
		if strings.TrimSpace(req.Title) == "" {
			RespondError(w, http.StatusBadRequest, "Title is required")
			return
		}
		rec, err = h.acquirer.Acquire(r.Context(), req.Title)
	}
	if err != nil {
		log.Error().Err(err).Str("title", req.Title).Msg("Failed to acquire title")
		respondServiceError(w, err, "Failed to start download")
		return
	}

	RespondJSON(w, http.StatusCreated, rec)
}

func (h *DownloadsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.controller.Cancel(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("record_id", id).Msg("Failed to cancel download")
		respondServiceError(w, err, "Failed to cancel download")
		return
	}

	RespondJSON(w, http.StatusOK, rec)
}

func (h *DownloadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleteFiles := false
	if raw := r.URL.Query().Get("deleteFiles"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "deleteFiles must be a boolean")
			return
		}
		deleteFiles = v
	}

	if err := h.controller.Remove(r.Context(), id, deleteFiles); err != nil {
		log.Error().Err(err).Str("record_id", id).Msg("Failed to remove download")
		respondServiceError(w, err, "Failed to remove download")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
