// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    DownloadStatus
		to      DownloadStatus
		wantErr bool
	}{
		{name: "created to resolving", from: StatusCreated, to: StatusResolvingRemote},
		{name: "cached remote skips ahead", from: StatusResolvingRemote, to: StatusRemoteReady},
		{name: "ready to local", from: StatusRemoteReady, to: StatusLocalTransferring},
		{name: "local complete without extraction", from: StatusLocalTransferComplete, to: StatusComplete},
		{name: "extraction complete to manual setup", from: StatusExtractionComplete, to: StatusNeedsManualSetup},
		{name: "error from any active state", from: StatusExtracting, to: StatusError},
		{name: "cancel from created", from: StatusCreated, to: StatusCanceled},
		{name: "backward rejected", from: StatusRemoteReady, to: StatusRemoteTransferring, wantErr: true},
		{name: "same rank rejected", from: StatusRemoteReady, to: StatusRemoteReady, wantErr: true},
		{name: "complete is terminal", from: StatusComplete, to: StatusError, wantErr: true},
		{name: "canceled is terminal", from: StatusCanceled, to: StatusCanceled, wantErr: true},
		{name: "manual setup to complete rejected", from: StatusNeedsManualSetup, to: StatusComplete, wantErr: true},
		{name: "unknown target", from: StatusCreated, to: DownloadStatus("paused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDownloadRecordTransition(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &DownloadRecord{ID: "a", Status: StatusRemoteTransferring, Progress: 45}

	require.NoError(t, rec.Transition(StatusRemoteReady, now))
	assert.Equal(t, 45.0, rec.Progress, "progress kept within a phase")

	require.NoError(t, rec.Transition(StatusLocalTransferring, now))
	assert.Equal(t, 0.0, rec.Progress, "progress resets on phase change")
	assert.Nil(t, rec.CompletedAt)

	rec.Notice = "possibly stuck"
	rec.TransferSpeed = 1024
	require.NoError(t, rec.Transition(StatusComplete, now))
	assert.Equal(t, 100.0, rec.Progress)
	assert.Empty(t, rec.Notice)
	assert.Zero(t, rec.TransferSpeed)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, now, *rec.CompletedAt)

	err := rec.Transition(StatusLocalTransferring, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusComplete, rec.Status)
}

func TestDownloadRecordFail(t *testing.T) {
	now := time.Now()

	rec := &DownloadRecord{ID: "a", Status: StatusExtracting}
	require.NoError(t, rec.Fail("", now))
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "unknown error", rec.Error)

	assert.Error(t, rec.Fail("again", now))
	assert.Equal(t, "unknown error", rec.Error)
}

func TestDownloadRecordSetProgress(t *testing.T) {
	rec := &DownloadRecord{}

	assert.True(t, rec.SetProgress(20))
	assert.False(t, rec.SetProgress(10))
	assert.Equal(t, 20.0, rec.Progress)
	assert.True(t, rec.SetProgress(150))
	assert.Equal(t, 100.0, rec.Progress)
}

func TestActiveHandle(t *testing.T) {
	tests := []struct {
		name     string
		status   DownloadStatus
		wantKind HandleKind
		wantID   string
	}{
		{name: "resolving uses remote", status: StatusResolvingRemote, wantKind: HandleRemote, wantID: "rd1"},
		{name: "ready uses remote", status: StatusRemoteReady, wantKind: HandleRemote, wantID: "rd1"},
		{name: "local transfer uses local", status: StatusLocalTransferring, wantKind: HandleLocal, wantID: "tx1"},
		{name: "extracting has none", status: StatusExtracting, wantKind: HandleNone},
		{name: "created has none", status: StatusCreated, wantKind: HandleNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &DownloadRecord{Status: tt.status, RemoteResolutionID: "rd1", LocalTransferID: "tx1"}
			kind, id := rec.ActiveHandle()
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestChangedFields(t *testing.T) {
	prev := &DownloadRecord{ID: "a", Status: StatusRemoteTransferring, Progress: 10}

	same := prev.Clone()
	assert.Empty(t, same.ChangedFields(prev))

	next := prev.Clone()
	next.Progress = 20
	next.Notice = "x"
	assert.Equal(t, []string{"progress", "notice"}, next.ChangedFields(prev))

	assert.Equal(t, []string{"*"}, next.ChangedFields(nil))
}

func TestCloneIsDeep(t *testing.T) {
	done := time.Now()
	rec := &DownloadRecord{
		ID:              "a",
		SourceCandidate: &SearchCandidate{DisplayName: "Foo"},
		CompletedAt:     &done,
	}

	clone := rec.Clone()
	clone.SourceCandidate.DisplayName = "Bar"
	*clone.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, "Foo", rec.SourceCandidate.DisplayName)
	assert.Equal(t, done, *rec.CompletedAt)
}
