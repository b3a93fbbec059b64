// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDownloadNotFound  = errors.New("download not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCanceled          = errors.New("canceled by user")
)

// DownloadStatus is the lifecycle state of a DownloadRecord.
type DownloadStatus string

const (
	StatusCreated               DownloadStatus = "created"
	StatusResolvingRemote       DownloadStatus = "resolving_remote"
	StatusRemoteTransferring    DownloadStatus = "remote_transferring"
	StatusRemoteReady           DownloadStatus = "remote_ready"
	StatusLocalTransferring     DownloadStatus = "local_transferring"
	StatusLocalTransferComplete DownloadStatus = "local_transfer_complete"
	StatusExtracting            DownloadStatus = "extracting"
	StatusExtractionComplete    DownloadStatus = "extraction_complete"
	StatusNeedsManualSetup      DownloadStatus = "needs_manual_setup"
	StatusComplete              DownloadStatus = "complete"
	StatusError                 DownloadStatus = "error"
	StatusCanceled              DownloadStatus = "canceled"
)

// statusRank orders the forward chain. The two success terminals share a rank.
var statusRank = map[DownloadStatus]int{
	StatusCreated:               0,
	StatusResolvingRemote:       1,
	StatusRemoteTransferring:    2,
	StatusRemoteReady:           3,
	StatusLocalTransferring:     4,
	StatusLocalTransferComplete: 5,
	StatusExtracting:            6,
	StatusExtractionComplete:    7,
	StatusNeedsManualSetup:      8,
	StatusComplete:              8,
}

// Phase groups statuses whose progress shares a scale.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRemote  Phase = "remote"
	PhaseLocal   Phase = "local"
	PhaseExtract Phase = "extract"
	PhaseDone    Phase = "done"
)

func (s DownloadStatus) Valid() bool {
	if s == StatusError || s == StatusCanceled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case StatusNeedsManualSetup, StatusComplete, StatusError, StatusCanceled:
		return true
	}
	return false
}

func (s DownloadStatus) Phase() Phase {
	switch s {
	case StatusResolvingRemote, StatusRemoteTransferring, StatusRemoteReady:
		return PhaseRemote
	case StatusLocalTransferring, StatusLocalTransferComplete:
		return PhaseLocal
	case StatusExtracting, StatusExtractionComplete:
		return PhaseExtract
	case StatusCreated:
		return PhaseIdle
	}
	return PhaseDone
}

// ValidateTransition checks a move along the forward graph. Forward skips are
// allowed (a remote job may already be cached); backward moves are not.
func ValidateTransition(from, to DownloadStatus) error {
	if !to.Valid() || !from.Valid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == StatusError || to == StatusCanceled {
		return nil
	}
	if statusRank[to] <= statusRank[from] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// DownloadRecord tracks one acquisition from submission to an installed directory.
type DownloadRecord struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	Status             DownloadStatus   `json:"status"`
	Progress           float64          `json:"progress"`
	DownloadedBytes    int64            `json:"downloadedBytes"`
	TotalBytes         int64            `json:"totalBytes"`
	TransferSpeed      int64            `json:"transferSpeed"`
	RemoteResolutionID string           `json:"remoteResolutionId,omitempty"`
	LocalTransferID    string           `json:"localTransferId,omitempty"`
	SourceCandidate    *SearchCandidate `json:"sourceCandidate,omitempty"`
	ExtractionProgress float64          `json:"extractionProgress"`
	ArchivePath        string           `json:"archivePath,omitempty"`
	FinalPath          string           `json:"finalPath,omitempty"`
	Error              string           `json:"error,omitempty"`
	Notice             string           `json:"notice,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
	CompletedAt        *time.Time       `json:"completedAt,omitempty"`
}

// HandleKind identifies which subsystem the active handle belongs to.
type HandleKind string

const (
	HandleNone   HandleKind = ""
	HandleRemote HandleKind = "remote"
	HandleLocal  HandleKind = "local"
)

// ActiveHandle returns the handle that drives the next poll for the current status.
func (r *DownloadRecord) ActiveHandle() (HandleKind, string) {
	switch r.Status {
	case StatusResolvingRemote, StatusRemoteTransferring, StatusRemoteReady:
		if r.RemoteResolutionID != "" {
			return HandleRemote, r.RemoteResolutionID
		}
	case StatusLocalTransferring:
		if r.LocalTransferID != "" {
			return HandleLocal, r.LocalTransferID
		}
	}
	return HandleNone, ""
}

// Transition moves the record to status to. It resets progress when the
// phase changes and stamps completion on terminal states.
func (r *DownloadRecord) Transition(to DownloadStatus, now time.Time) error {
	if r.Status == to {
		return nil
	}
	if err := ValidateTransition(r.Status, to); err != nil {
		return err
	}

	if r.Status.Phase() != to.Phase() {
		r.Progress = 0
	}
	r.Status = to
	r.UpdatedAt = now

	if to == StatusComplete || to == StatusNeedsManualSetup {
		r.Progress = 100
		r.Notice = ""
	}

	if to.IsTerminal() {
		completed := now
		r.CompletedAt = &completed
		r.TransferSpeed = 0
	}
	return nil
}

// Fail moves the record to error with a non-empty message.
func (r *DownloadRecord) Fail(msg string, now time.Time) error {
	if msg == "" {
		msg = "unknown error"
	}
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Status)
	}
	if err := r.Transition(StatusError, now); err != nil {
		return err
	}
	r.Error = msg
	return nil
}

// SetProgress applies p within the current phase. Decreases are ignored.
func (r *DownloadRecord) SetProgress(p float64) bool {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	if p <= r.Progress {
		return false
	}
	r.Progress = p
	return true
}

// Clone returns a deep copy safe to hand to subscribers.
func (r *DownloadRecord) Clone() *DownloadRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.SourceCandidate != nil {
		c := *r.SourceCandidate
		out.SourceCandidate = &c
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ChangedFields lists the JSON field names that differ between prev and r.
func (r *DownloadRecord) ChangedFields(prev *DownloadRecord) []string {
	if prev == nil {
		return []string{"*"}
	}
	var fields []string
	add := func(cond bool, name string) {
		if cond {
			fields = append(fields, name)
		}
	}
	add(prev.Status != r.Status, "status")
	add(prev.Progress != r.Progress, "progress")
	add(prev.DownloadedBytes != r.DownloadedBytes, "downloadedBytes")
	add(prev.TotalBytes != r.TotalBytes, "totalBytes")
	add(prev.TransferSpeed != r.TransferSpeed, "transferSpeed")
	add(prev.RemoteResolutionID != r.RemoteResolutionID, "remoteResolutionId")
	add(prev.LocalTransferID != r.LocalTransferID, "localTransferId")
	add(prev.ExtractionProgress != r.ExtractionProgress, "extractionProgress")
	add(prev.ArchivePath != r.ArchivePath, "archivePath")
	add(prev.FinalPath != r.FinalPath, "finalPath")
	add(prev.Error != r.Error, "error")
	add(prev.Notice != r.Notice, "notice")
	return fields
}
