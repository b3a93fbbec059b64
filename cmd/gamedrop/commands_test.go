// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/monitor"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{name: "no_limit", in: "Hollow Knight", width: 0, want: "Hollow Knight"},
		{name: "fits", in: "Celeste", width: 10, want: "Celeste"},
		{name: "cut", in: "Hollow Knight Voidheart", width: 10, want: "Hollow ..."},
		{name: "multibyte", in: "ÅÄÖÅÄÖÅÄÖÅÄÖ", width: 6, want: "ÅÄÖ..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.width))
		})
	}
}

func TestPrintCandidates(t *testing.T) {
	var buf bytes.Buffer
	printCandidates(&buf, nil, 0)
	assert.Equal(t, "No candidates found.\n", buf.String())

	buf.Reset()
	printCandidates(&buf, []models.SearchCandidate{
		{DisplayName: "Celeste-GOG", SizeBytes: 2 << 30, Seeders: 40, QualityScore: 55.5, RelevanceScore: 100, MatchType: models.MatchTypeExact, SourceProvider: "apibay"},
	}, 0)

	out := buf.String()
	assert.Contains(t, out, "PROVIDER")
	assert.Contains(t, out, "Celeste-GOG")
	assert.Contains(t, out, "2.0 GiB")
	assert.Contains(t, out, "apibay")
}

func TestFollowRecord(t *testing.T) {
	tests := []struct {
		name    string
		updates []monitor.Update
		wantErr string
		wantOut []string
	}{
		{
			name: "complete",
			updates: []monitor.Update{
				{RecordID: "other", Record: &models.DownloadRecord{ID: "other", Status: models.StatusError}},
				{RecordID: "a", Record: &models.DownloadRecord{ID: "a", Status: models.StatusRemoteTransferring}},
				{RecordID: "a", Record: &models.DownloadRecord{ID: "a", Status: models.StatusComplete, FinalPath: "/games/Celeste"}},
			},
			wantOut: []string{"remote_transferring", "complete", "Installed to /games/Celeste"},
		},
		{
			name: "error",
			updates: []monitor.Update{
				{RecordID: "a", Record: &models.DownloadRecord{ID: "a", Status: models.StatusError, Error: "debrid rejected the magnet"}},
			},
			wantErr: "debrid rejected the magnet",
		},
		{
			name:    "removed",
			updates: []monitor.Update{{RecordID: "a", Removed: true}},
			wantErr: "download was removed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan monitor.Update, len(tt.updates))
			for _, u := range tt.updates {
				ch <- u
			}
			close(ch)

			var buf bytes.Buffer
			err := followRecord(context.Background(), &buf, "a", ch)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantOut {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
