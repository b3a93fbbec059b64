// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
)

type ProviderStore interface {
	List(ctx context.Context) ([]*models.ProviderConfig, error)
	Create(ctx context.Context, input *models.ProviderInput) (*models.ProviderConfig, error)
	Update(ctx context.Context, id int, input *models.ProviderInput) (*models.ProviderConfig, error)
	Delete(ctx context.Context, id int) error
}

type ProvidersHandler struct {
	store ProviderStore
}

func NewProvidersHandler(store ProviderStore) *ProvidersHandler {
	return &ProvidersHandler{store: store}
}

func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	providers, err := h.store.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list providers")
		RespondError(w, http.StatusInternalServerError, "Failed to load providers")
		return
	}

	RespondJSON(w, http.StatusOK, providers)
}

func (h *ProvidersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input models.ProviderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	provider, err := h.store.Create(r.Context(), &input)
	if err != nil {
		log.Error().Err(err).Str("name", input.Name).Msg("failed to create provider")
		respondServiceError(w, err, "Failed to create provider")
		return
	}

	RespondJSON(w, http.StatusCreated, provider)
}

func (h *ProvidersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProviderID(w, r)
	if !ok {
		return
	}

	var input models.ProviderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	provider, err := h.store.Update(r.Context(), id, &input)
	if err != nil {
		log.Error().Err(err).Int("id", id).Msg("failed to update provider")
		respondServiceError(w, err, "Failed to update provider")
		return
	}

	RespondJSON(w, http.StatusOK, provider)
}

func (h *ProvidersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProviderID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		log.Error().Err(err).Int("id", id).Msg("failed to delete provider")
		respondServiceError(w, err, "Failed to delete provider")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseProviderID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid provider ID")
		return 0, false
	}
	return id, true
}
