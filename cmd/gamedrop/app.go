// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/gamedrop/internal/buildinfo"
	"github.com/autobrr/gamedrop/internal/config"
	"github.com/autobrr/gamedrop/internal/database"
	"github.com/autobrr/gamedrop/internal/domain"
	"github.com/autobrr/gamedrop/internal/metrics"
	"github.com/autobrr/gamedrop/internal/models"
	"github.com/autobrr/gamedrop/internal/pkg/releases"
	"github.com/autobrr/gamedrop/internal/services/debrid"
	"github.com/autobrr/gamedrop/internal/services/downloads"
	"github.com/autobrr/gamedrop/internal/services/extraction"
	"github.com/autobrr/gamedrop/internal/services/indexers"
	"github.com/autobrr/gamedrop/internal/services/monitor"
	"github.com/autobrr/gamedrop/internal/services/search"
	"github.com/autobrr/gamedrop/internal/services/transfer"
)

// stack is every long-lived component wired from one config.
type stack struct {
	cfg           *config.AppConfig
	db            *database.DB
	metrics       *metrics.Metrics
	providerStore *models.ProviderStore
	downloadStore *models.DownloadStore
	aggregator    *search.Aggregator
	transfers     *transfer.Manager
	monitor       *monitor.Service
	downloads     *downloads.Service
}

func loadConfig(configDir, dataDir, logPath string) (*config.AppConfig, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "initialize configuration")
	}

	if dataDir != "" {
		os.Setenv("GAMEDROP__DATA_DIR", dataDir)
		cfg.SetDataDir(dataDir)
	}
	if logPath != "" {
		os.Setenv("GAMEDROP__LOG_PATH", logPath)
		cfg.Config.LogPath = logPath
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

func openProviderStore(cfg *config.AppConfig) (*database.DB, *models.ProviderStore, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "initialize database")
	}

	store, err := models.NewProviderStore(db, cfg.GetEncryptionKey())
	if err != nil {
		db.Close()
		return nil, nil, errors.Wrap(err, "initialize provider store")
	}
	return db, store, nil
}

func filterConfig(c *domain.Config) search.FilterConfig {
	fc := search.DefaultFilterConfig()
	if c.MinSizeMB > 0 {
		fc.MinSizeBytes = c.MinSizeMB << 20
	}
	if c.MaxSizeGB > 0 {
		fc.MaxSizeBytes = c.MaxSizeGB << 30
	}
	if c.MinRelevance > 0 {
		fc.MinRelevance = c.MinRelevance
	}
	if c.MaxResults > 0 {
		fc.MaxResults = c.MaxResults
	}
	fc.Expression = c.CandidateFilter
	return fc
}

func monitorConfig(cfg *config.AppConfig) monitor.Config {
	mc := monitor.DefaultConfig()
	c := cfg.Config
	if c.PollBaseIntervalMs > 0 {
		mc.RemoteInterval = time.Duration(c.PollBaseIntervalMs) * time.Millisecond
	}
	if c.MaxBatchSize > 0 {
		mc.MaxBatch = c.MaxBatchSize
	}
	if c.StuckThresholdMinutes > 0 {
		mc.StuckThreshold = time.Duration(c.StuckThresholdMinutes) * time.Minute
	}
	if c.RetentionHours > 0 {
		mc.Retention = time.Duration(c.RetentionHours) * time.Hour
	}
	mc.DownloadDir = cfg.GetDownloadDir()
	mc.InstallDir = cfg.GetInstallDir()
	return mc
}

func newStack(ctx context.Context, cfg *config.AppConfig) (*stack, error) {
	db, providerStore, err := openProviderStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &stack{
		cfg:           cfg,
		db:            db,
		providerStore: providerStore,
	}
	if cfg.Config.MetricsEnabled {
		s.metrics = metrics.New()
	}

	s.downloadStore = models.NewDownloadStore(models.NewKVStore(db))
	loaded, err := s.downloadStore.Load(ctx)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load download records")
	}
	log.Debug().Int("records", loaded).Msg("Loaded download records")

	scorer := search.NewScorer(search.WeightsFromConfig(cfg.Config.Scoring), releases.NewDefaultParser())
	filter, err := search.NewFilter(filterConfig(cfg.Config), scorer)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "compile candidate filter")
	}

	searchTimeout := time.Duration(cfg.Config.SearchTimeoutSeconds) * time.Second
	s.aggregator, err = search.NewAggregator(search.AggregatorConfig{
		Source: search.StoreProviders(providerStore, indexers.Options{
			AllowSimulated: cfg.Config.SimulatedProviders,
			DefaultTimeout: searchTimeout,
			DecryptAPIKey:  providerStore.GetDecryptedAPIKey,
		}),
		Scorer:         scorer,
		Filter:         filter,
		Metrics:        s.metrics,
		DefaultTimeout: searchTimeout,
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize search")
	}

	resolver, err := debrid.NewClient(debrid.Config{
		BaseURL:           cfg.Config.DebridBaseURL,
		Token:             cfg.Config.DebridToken,
		RequestsPerSecond: cfg.Config.DebridRequestsPerSecond,
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize debrid client")
	}
	if cfg.Config.DebridToken == "" {
		log.Warn().Msg("No debrid token configured - downloads will fail until debridToken is set")
	}

	engine, err := extraction.NewEngine(extraction.Config{
		PreferExternal: cfg.Config.ExtractionPreferExternal,
		ToolArgs:       cfg.Config.ExtractionToolArgs,
		SevenZipPath:   cfg.Config.SevenZipPath,
		UnrarPath:      cfg.Config.UnrarPath,
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initialize extraction")
	}

	for _, dir := range []string{cfg.GetDownloadDir(), cfg.GetInstallDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}

	s.transfers = transfer.NewManager(nil)
	s.monitor = monitor.NewService(monitorConfig(cfg), s.downloadStore, resolver, s.transfers, engine, monitor.NewEmitter(), s.metrics)
	s.downloads = downloads.NewService(s.aggregator, resolver, s.monitor)

	cfg.RegisterReloadListener(func(c *domain.Config) {
		scorer.SetWeights(search.WeightsFromConfig(c.Scoring))
		log.Info().Msg("Scoring weights reloaded")
	})

	return s, nil
}

// close stops background work. The monitor must already be canceled.
func (s *stack) close() {
	s.monitor.Wait()
	s.transfers.Shutdown()
	if err := s.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}
