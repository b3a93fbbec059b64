// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package indexers implements the search provider adapters.
package indexers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/models"
)

// Adapter searches one provider. Errors are typed (ErrRateLimited,
// ErrTransientNetwork, ErrMalformedResponse) and absorbed by the aggregator.
type Adapter interface {
	Name() string
	Search(ctx context.Context, title string) ([]models.SearchCandidate, error)
}

// Provider pairs an adapter with the scheduling attributes from its config.
type Provider struct {
	Adapter
	Companion bool
	Priority  int
	Timeout   time.Duration
}

// Options controls how adapters are built from provider configs.
type Options struct {
	HTTPClient     *http.Client
	AllowSimulated bool
	DefaultTimeout time.Duration
	DecryptAPIKey  func(*models.ProviderConfig) (string, error)
}

// Build turns enabled provider configs into runnable providers. Configs that
// cannot be built are logged and skipped.
func Build(configs []*models.ProviderConfig, opts Options) []Provider {
	client := newHTTPClient(opts.HTTPClient)

	providers := make([]Provider, 0, len(configs))
	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}

		adapter, err := newAdapter(cfg, client, opts)
		if err != nil {
			log.Warn().Err(err).Str("provider", cfg.Name).Msg("Skipping provider")
			continue
		}

		timeout := cfg.Timeout()
		if cfg.TimeoutSeconds <= 0 && opts.DefaultTimeout > 0 {
			timeout = opts.DefaultTimeout
		}

		providers = append(providers, Provider{
			Adapter:   adapter,
			Companion: cfg.Companion,
			Priority:  cfg.Priority,
			Timeout:   timeout,
		})
	}
	return providers
}

func newAdapter(cfg *models.ProviderConfig, client *httpClient, opts Options) (Adapter, error) {
	var apiKey string
	if opts.DecryptAPIKey != nil && cfg.APIKeyEncrypted != "" {
		key, err := opts.DecryptAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("decrypt api key: %w", err)
		}
		apiKey = key
	}

	switch cfg.Kind {
	case models.ProviderKindTorznab:
		return NewTorznab(cfg.Name, cfg.BaseURL, apiKey, client), nil
	case models.ProviderKindApibay:
		return NewApibay(cfg.Name, cfg.BaseURL, client), nil
	case models.ProviderKindHydra:
		return NewHydra(cfg.Name, cfg.BaseURL, client), nil
	case models.ProviderKindHTML:
		return NewHTMLTable(cfg.Name, cfg.BaseURL, client), nil
	case models.ProviderKindSimulated:
		if !opts.AllowSimulated {
			return nil, fmt.Errorf("simulated providers are disabled")
		}
		log.Warn().Str("provider", cfg.Name).Msg("Simulated provider enabled; results are not real")
		return NewSimulated(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
