// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloads turns a title or a chosen candidate into a tracked download.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/debrid"
	"github.com/autobrr/gamedrop/internal/services/search"
)

var (
	ErrEmptyTitle       = errors.New("title is required")
	ErrInvalidCandidate = errors.New("candidate has no acquisition handle")
)

// Picker chooses the best candidate for a title.
type Picker interface {
	QuickPick(ctx context.Context, title string) (*models.SearchCandidate, error)
}

// Tracker takes ownership of new records. *monitor.Service implements it.
type Tracker interface {
	Add(ctx context.Context, rec *models.DownloadRecord) error
}

type Service struct {
	picker   Picker
	resolver debrid.Resolver
	tracker  Tracker
	log      zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewService(picker Picker, resolver debrid.Resolver, tracker Tracker) *Service {
	return &Service{
		picker:   picker,
		resolver: resolver,
		tracker:  tracker,
		log:      log.Logger.With().Str("module", "downloads").Logger(),
		now:      time.Now,
		newID:    func() string { return ksuid.New().String() },
	}
}

// Acquire searches for title, picks the best candidate and submits it.
func (s *Service) Acquire(ctx context.Context, title string) (*models.DownloadRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	candidate, err := s.picker.QuickPick(ctx, title)
	if err != nil {
		if errors.Is(err, search.ErrNoCandidates) {
			return nil, fmt.Errorf("%w for %q", search.ErrNoCandidates, title)
		}
		return nil, err
	}

	s.log.Info().
		Str("title", title).
		Str("candidate", candidate.DisplayName).
		Str("provider", candidate.SourceProvider).
		Float64("relevance", candidate.RelevanceScore).
		Float64("quality", candidate.QualityScore).
		Msg("Picked candidate")

	return s.AcquireCandidate(ctx, title, *candidate)
}

// AcquireCandidate submits a candidate the caller already chose.
func (s *Service) AcquireCandidate(ctx context.Context, title string, candidate models.SearchCandidate) (*models.DownloadRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(candidate.DisplayName)
	}
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if strings.TrimSpace(candidate.AcquisitionHandle) == "" {
		return nil, ErrInvalidCandidate
	}

	remoteID, err := s.resolver.Submit(ctx, candidate.AcquisitionHandle)
	if err != nil {
		return nil, fmt.Errorf("submit %q: %w", candidate.DisplayName, err)
	}

	now := s.now()
	rec := &models.DownloadRecord{
		ID:                 s.newID(),
		Title:              title,
		Status:             models.StatusCreated,
		RemoteResolutionID: remoteID,
		SourceCandidate:    &candidate,
		TotalBytes:         candidate.SizeBytes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.tracker.Add(ctx, rec); err != nil {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cancelErr := s.resolver.Cancel(cancelCtx, remoteID); cancelErr != nil {
			s.log.Warn().Err(cancelErr).Str("remote_id", remoteID).Msg("Failed to release remote job after save error")
		}
		return nil, fmt.Errorf("track download: %w", err)
	}

	s.log.Info().Str("record_id", rec.ID).Str("title", title).Str("remote_id", remoteID).Msg("Download submitted")
	return rec, nil
}
