// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled form of config.toml plus GAMEDROP__ environment overrides.
type Config struct {
	Version string `toml:"-" mapstructure:"-"`

	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	BaseURL string `toml:"baseUrl" mapstructure:"baseUrl"`
	APIKey  string `toml:"apiKey" mapstructure:"apiKey"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	DataDir     string `toml:"dataDir" mapstructure:"dataDir"`
	DownloadDir string `toml:"downloadDir" mapstructure:"downloadDir"`
	InstallDir  string `toml:"installDir" mapstructure:"installDir"`

	// EncryptionSecret derives the AES key protecting provider API keys at rest.
	EncryptionSecret string `toml:"encryptionSecret" mapstructure:"encryptionSecret"`

	DebridBaseURL           string  `toml:"debridBaseUrl" mapstructure:"debridBaseUrl"`
	DebridToken             string  `toml:"debridToken" mapstructure:"debridToken"`
	DebridRequestsPerSecond float64 `toml:"debridRequestsPerSecond" mapstructure:"debridRequestsPerSecond"`

	PollBaseIntervalMs    int `toml:"pollBaseIntervalMs" mapstructure:"pollBaseIntervalMs"`
	MaxBatchSize          int `toml:"maxBatchSize" mapstructure:"maxBatchSize"`
	StuckThresholdMinutes int `toml:"stuckThresholdMinutes" mapstructure:"stuckThresholdMinutes"`
	RetentionHours        int `toml:"retentionHours" mapstructure:"retentionHours"`

	SearchTimeoutSeconds int     `toml:"searchTimeoutSeconds" mapstructure:"searchTimeoutSeconds"`
	MinSizeMB            int64   `toml:"minSizeMb" mapstructure:"minSizeMb"`
	MaxSizeGB            int64   `toml:"maxSizeGb" mapstructure:"maxSizeGb"`
	MinRelevance         float64 `toml:"minRelevance" mapstructure:"minRelevance"`
	MaxResults           int     `toml:"maxResults" mapstructure:"maxResults"`
	CandidateFilter      string  `toml:"candidateFilter" mapstructure:"candidateFilter"`

	// SimulatedProviders enables stand-in search results. Development only.
	SimulatedProviders bool `toml:"simulatedProviders" mapstructure:"simulatedProviders"`

	ExtractionPreferExternal bool   `toml:"extractionPreferExternal" mapstructure:"extractionPreferExternal"`
	ExtractionToolArgs       string `toml:"extractionToolArgs" mapstructure:"extractionToolArgs"`
	SevenZipPath             string `toml:"sevenZipPath" mapstructure:"sevenZipPath"`
	UnrarPath                string `toml:"unrarPath" mapstructure:"unrarPath"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	Scoring ScoringConfig `toml:"scoring" mapstructure:"scoring"`
}

// ScoringConfig mirrors search.Weights. Zero values fall back to the defaults.
type ScoringConfig struct {
	SeederCap          int      `toml:"seederCap" mapstructure:"seederCap"`
	SeederWeight       float64  `toml:"seederWeight" mapstructure:"seederWeight"`
	RepackBonus        float64  `toml:"repackBonus" mapstructure:"repackBonus"`
	SizeBandBonus      float64  `toml:"sizeBandBonus" mapstructure:"sizeBandBonus"`
	SizeBandMinMB      int64    `toml:"sizeBandMinMb" mapstructure:"sizeBandMinMb"`
	SizeBandMaxGB      int64    `toml:"sizeBandMaxGb" mapstructure:"sizeBandMaxGb"`
	VersionBonusMax    float64  `toml:"versionBonusMax" mapstructure:"versionBonusMax"`
	PrereleasePenalty  float64  `toml:"prereleasePenalty" mapstructure:"prereleasePenalty"`
	LanguageBonus      float64  `toml:"languageBonus" mapstructure:"languageBonus"`
	SequelPenalty      float64  `toml:"sequelPenalty" mapstructure:"sequelPenalty"`
	EditionBoost       float64  `toml:"editionBoost" mapstructure:"editionBoost"`
	QuickPickThreshold float64  `toml:"quickPickThreshold" mapstructure:"quickPickThreshold"`
	PreferredLanguages []string `toml:"preferredLanguages" mapstructure:"preferredLanguages"`
	RepackGroups       []string `toml:"repackGroups" mapstructure:"repackGroups"`
}
