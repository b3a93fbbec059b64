// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"fmt"

	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/services/indexers"
)

// ProviderLister is the read side of models.ProviderStore.
type ProviderLister interface {
	ListEnabled(ctx context.Context) ([]*models.ProviderConfig, error)
}

// StoreProviders builds adapters from the enabled provider configs on every
// search, so API edits apply without a restart.
func StoreProviders(store ProviderLister, opts indexers.Options) ProviderSource {
	return func(ctx context.Context) ([]indexers.Provider, error) {
		configs, err := store.ListEnabled(ctx)
		if err != nil {
			return nil, fmt.Errorf("list providers: %w", err)
		}
		return indexers.Build(configs, opts), nil
	}
}
