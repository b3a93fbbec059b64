// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/gamedrop/internal/database"
)

func TestBaseURLValidation(t *testing.T) {
	tests := []struct {
		name     string
		kind     ProviderKind
		input    string
		expected string
		wantErr  bool
	}{
		{name: "https with path", kind: ProviderKindTorznab, input: "https://jackett.local:9117/api/v2.0/indexers/all/results/torznab", expected: "https://jackett.local:9117/api/v2.0/indexers/all/results/torznab"},
		{name: "no scheme", kind: ProviderKindApibay, input: "apibay.org", expected: "https://apibay.org"},
		{name: "trailing slash trimmed", kind: ProviderKindHTML, input: "http://localhost:8080/", expected: "http://localhost:8080"},
		{name: "whitespace", kind: ProviderKindHydra, input: "  https://hydralinks.cloud/sources/fitgirl.json  ", expected: "https://hydralinks.cloud/sources/fitgirl.json"},
		{name: "simulated may be empty", kind: ProviderKindSimulated, input: "", expected: ""},
		{name: "empty", kind: ProviderKindTorznab, input: "", wantErr: true},
		{name: "ftp scheme", kind: ProviderKindTorznab, input: "ftp://localhost", wantErr: true},
		{name: "no host", kind: ProviderKindTorznab, input: "http://", wantErr: true},
		{name: "javascript scheme", kind: ProviderKindHTML, input: "javascript:alert(1)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateAndNormalizeBaseURL(tt.kind, tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error for input %q", tt.input)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func newTestProviderStore(t *testing.T) *ProviderStore {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "gamedrop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	store, err := NewProviderStore(db, key)
	require.NoError(t, err)
	return store
}

func TestProviderStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestProviderStore(t)

	apiKey := "secret"
	created, err := store.Create(ctx, &ProviderInput{
		Name:    "jackett",
		Kind:    ProviderKindTorznab,
		BaseURL: "http://localhost:9117/api/v2.0/indexers/all/results/torznab",
		APIKey:  &apiKey,
	})
	require.NoError(t, err)
	assert.True(t, created.Enabled)
	assert.True(t, created.Companion, "torznab defaults to companion")
	assert.Equal(t, 10, created.TimeoutSeconds)
	assert.NotEqual(t, apiKey, created.APIKeyEncrypted)

	plain, err := store.GetDecryptedAPIKey(created)
	require.NoError(t, err)
	assert.Equal(t, apiKey, plain)

	_, err = store.Create(ctx, &ProviderInput{Name: "jackett", Kind: ProviderKindTorznab, BaseURL: "http://x"})
	assert.ErrorIs(t, err, ErrProviderExists)

	disabled := false
	priority := 5
	_, err = store.Create(ctx, &ProviderInput{Name: "bay", Kind: ProviderKindApibay, BaseURL: "https://apibay.org", Priority: &priority})
	require.NoError(t, err)
	off, err := store.Create(ctx, &ProviderInput{Name: "sim", Kind: ProviderKindSimulated, Enabled: &disabled})
	require.NoError(t, err)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "jackett", all[0].Name)
	assert.Equal(t, "bay", all[1].Name)

	enabled, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	enable := true
	updated, err := store.Update(ctx, off.ID, &ProviderInput{Enabled: &enable})
	require.NoError(t, err)
	assert.True(t, updated.Enabled)
	assert.Equal(t, "sim", updated.Name)

	require.NoError(t, store.Delete(ctx, off.ID))
	_, err = store.Get(ctx, off.ID)
	assert.ErrorIs(t, err, ErrProviderNotFound)
	assert.ErrorIs(t, store.Delete(ctx, off.ID), ErrProviderNotFound)
}

func TestProviderStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := newTestProviderStore(t)

	tests := []struct {
		name  string
		input *ProviderInput
	}{
		{name: "nil", input: nil},
		{name: "empty name", input: &ProviderInput{Kind: ProviderKindApibay, BaseURL: "https://x"}},
		{name: "unknown kind", input: &ProviderInput{Name: "x", Kind: "usenet", BaseURL: "https://x"}},
		{name: "missing url", input: &ProviderInput{Name: "x", Kind: ProviderKindApibay}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(ctx, tt.input)
			assert.Error(t, err)
		})
	}
}

func TestNewProviderStoreKeyLength(t *testing.T) {
	_, err := NewProviderStore(nil, []byte("short"))
	assert.Error(t, err)
}

func TestProviderConfigMarshalRedactsKey(t *testing.T) {
	p := ProviderConfig{ID: 1, Name: "jackett", Kind: ProviderKindTorznab, APIKeyEncrypted: "ciphertext"}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ciphertext")
	assert.Contains(t, string(data), `"hasApiKey":true`)
}
