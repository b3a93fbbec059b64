// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/gamedrop/internal/domain"
)

var envPrefix = "GAMEDROP__"

const appName = "gamedrop"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	dataDir string
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version

	c.resolveDataDir()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	encryptionSecret, err := generateSecureToken(encryptionKeySize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate encryption secret, using fallback")
		encryptionSecret = "change-me-" + fmt.Sprintf("%d", os.Getpid())
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 7480)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("apiKey", "")
	c.viper.SetDefault("encryptionSecret", encryptionSecret)
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("downloadDir", "")
	c.viper.SetDefault("installDir", "")

	c.viper.SetDefault("debridBaseUrl", "https://api.real-debrid.com/rest/1.0")
	c.viper.SetDefault("debridToken", "")
	c.viper.SetDefault("debridRequestsPerSecond", 4)

	c.viper.SetDefault("pollBaseIntervalMs", 2000)
	c.viper.SetDefault("maxBatchSize", 15)
	c.viper.SetDefault("stuckThresholdMinutes", 10)
	c.viper.SetDefault("retentionHours", 24*7)

	c.viper.SetDefault("searchTimeoutSeconds", 10)
	c.viper.SetDefault("minSizeMb", 10)
	c.viper.SetDefault("maxSizeGb", 200)
	c.viper.SetDefault("minRelevance", 40)
	c.viper.SetDefault("maxResults", 50)
	c.viper.SetDefault("candidateFilter", "")
	c.viper.SetDefault("simulatedProviders", false)

	c.viper.SetDefault("extractionPreferExternal", false)
	c.viper.SetDefault("extractionToolArgs", "")
	c.viper.SetDefault("sevenZipPath", "")
	c.viper.SetDefault("unrarPath", "")

	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9080)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}

		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read newly created config: %w", err)
		}
		c.dataDir = filepath.Dir(defaultConfigPath)
	}

	return nil
}

// scoringEnv maps scoring table keys to their environment suffix.
var scoringEnv = map[string]string{
	"seederCap":          "SEEDER_CAP",
	"seederWeight":       "SEEDER_WEIGHT",
	"repackBonus":        "REPACK_BONUS",
	"sizeBandBonus":      "SIZE_BAND_BONUS",
	"sizeBandMinMb":      "SIZE_BAND_MIN_MB",
	"sizeBandMaxGb":      "SIZE_BAND_MAX_GB",
	"versionBonusMax":    "VERSION_BONUS_MAX",
	"prereleasePenalty":  "PRERELEASE_PENALTY",
	"languageBonus":      "LANGUAGE_BONUS",
	"sequelPenalty":      "SEQUEL_PENALTY",
	"editionBoost":       "EDITION_BOOST",
	"quickPickThreshold": "QUICK_PICK_THRESHOLD",
}

func (c *AppConfig) loadFromEnv() {
	// Only explicit bindings; AutomaticEnv picks up unrelated variables in containers.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.bindOrReadFromFile("apiKey", envPrefix+"API_KEY")
	c.bindOrReadFromFile("encryptionSecret", envPrefix+"ENCRYPTION_SECRET")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("downloadDir", envPrefix+"DOWNLOAD_DIR")
	c.viper.BindEnv("installDir", envPrefix+"INSTALL_DIR")

	c.viper.BindEnv("debridBaseUrl", envPrefix+"DEBRID_BASE_URL")
	c.bindOrReadFromFile("debridToken", envPrefix+"DEBRID_TOKEN")
	c.viper.BindEnv("debridRequestsPerSecond", envPrefix+"DEBRID_REQUESTS_PER_SECOND")

	c.viper.BindEnv("pollBaseIntervalMs", envPrefix+"POLL_BASE_INTERVAL_MS")
	c.viper.BindEnv("maxBatchSize", envPrefix+"MAX_BATCH_SIZE")
	c.viper.BindEnv("stuckThresholdMinutes", envPrefix+"STUCK_THRESHOLD_MINUTES")
	c.viper.BindEnv("retentionHours", envPrefix+"RETENTION_HOURS")

	c.viper.BindEnv("searchTimeoutSeconds", envPrefix+"SEARCH_TIMEOUT_SECONDS")
	c.viper.BindEnv("minSizeMb", envPrefix+"MIN_SIZE_MB")
	c.viper.BindEnv("maxSizeGb", envPrefix+"MAX_SIZE_GB")
	c.viper.BindEnv("minRelevance", envPrefix+"MIN_RELEVANCE")
	c.viper.BindEnv("maxResults", envPrefix+"MAX_RESULTS")
	c.viper.BindEnv("candidateFilter", envPrefix+"CANDIDATE_FILTER")
	c.viper.BindEnv("simulatedProviders", envPrefix+"SIMULATED_PROVIDERS")

	c.viper.BindEnv("extractionPreferExternal", envPrefix+"EXTRACTION_PREFER_EXTERNAL")
	c.viper.BindEnv("extractionToolArgs", envPrefix+"EXTRACTION_TOOL_ARGS")
	c.viper.BindEnv("sevenZipPath", envPrefix+"SEVEN_ZIP_PATH")
	c.viper.BindEnv("unrarPath", envPrefix+"UNRAR_PATH")

	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")

	for key, env := range scoringEnv {
		c.viper.BindEnv("scoring."+key, envPrefix+"SCORING__"+env)
	}
}

func (c *AppConfig) watchConfig() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 7480
port = {{ .port }}

# Base URL
# Set a custom baseUrl eg /gamedrop/ to serve in a subdirectory.
#baseUrl = "/gamedrop/"

# API key
# When set, every /api request must carry it in the X-API-Key header.
#apiKey = ""

# Encryption secret
# Auto-generated. Protects provider API keys stored in the database.
# WARNING: Changing this value makes stored provider API keys unreadable.
encryptionSecret = "{{ .encryptionSecret }}"

# Log level
# Default: "INFO"
# Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
logLevel = "{{ .logLevel }}"

# Log file path
# If not defined, logs to stderr
#logPath = "log/gamedrop.log"

# Log rotation
# Default: {{ .logMaxSize }} MB, {{ .logMaxBackups }} backups
#logMaxSize = {{ .logMaxSize }}
#logMaxBackups = {{ .logMaxBackups }}

# Data directory (default: next to config file)
# The database (gamedrop.db) is created inside this directory
#dataDir = "/var/lib/gamedrop"

# Where archives are downloaded (default: <dataDir>/downloads)
#downloadDir = ""

# Where games are installed (default: <dataDir>/games)
#installDir = ""

# Debrid service
#debridBaseUrl = "{{ .debridBaseUrl }}"
debridToken = ""
#debridRequestsPerSecond = {{ .debridRequestsPerSecond }}

# Monitor
#pollBaseIntervalMs = {{ .pollBaseIntervalMs }}
#maxBatchSize = {{ .maxBatchSize }}
#stuckThresholdMinutes = {{ .stuckThresholdMinutes }}
#retentionHours = {{ .retentionHours }}

# Search
#searchTimeoutSeconds = {{ .searchTimeoutSeconds }}
#minSizeMb = {{ .minSizeMb }}
#maxSizeGb = {{ .maxSizeGb }}
#minRelevance = {{ .minRelevance }}
#maxResults = {{ .maxResults }}

# Candidate filter expression, evaluated per candidate.
# Example: 'Seeders > 5 && !(SourceProvider contains "html")'
#candidateFilter = ""

# Stand-in search results for development
#simulatedProviders = false

# Extraction
#extractionPreferExternal = false
#extractionToolArgs = ""
#sevenZipPath = ""
#unrarPath = ""

# Prometheus metrics on a separate port
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9080

# Ranking weights. Unset keys keep their defaults.
#[scoring]
#seederCap = 100
#seederWeight = 0.2
#repackBonus = 15
#quickPickThreshold = 90
#preferredLanguages = ["english", "multi"]
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	data := map[string]any{
		"host":                    c.viper.GetString("host"),
		"port":                    c.viper.GetInt("port"),
		"encryptionSecret":        c.viper.GetString("encryptionSecret"),
		"logLevel":                c.viper.GetString("logLevel"),
		"logMaxSize":              c.viper.GetInt("logMaxSize"),
		"logMaxBackups":           c.viper.GetInt("logMaxBackups"),
		"debridBaseUrl":           c.viper.GetString("debridBaseUrl"),
		"debridRequestsPerSecond": c.viper.GetFloat64("debridRequestsPerSecond"),
		"pollBaseIntervalMs":      c.viper.GetInt("pollBaseIntervalMs"),
		"maxBatchSize":            c.viper.GetInt("maxBatchSize"),
		"stuckThresholdMinutes":   c.viper.GetInt("stuckThresholdMinutes"),
		"retentionHours":          c.viper.GetInt("retentionHours"),
		"searchTimeoutSeconds":    c.viper.GetInt("searchTimeoutSeconds"),
		"minSizeMb":               c.viper.GetInt("minSizeMb"),
		"maxSizeGb":               c.viper.GetInt("maxSizeGb"),
		"minRelevance":            c.viper.GetFloat64("minRelevance"),
		"maxResults":              c.viper.GetInt("maxResults"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Docker images point XDG_CONFIG_HOME at /config
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	return os.Getpid() == 1
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := c.baseLogWriter()

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}
	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) || term.IsTerminal(int(os.Stderr.Fd())) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatMessage = func(i any) string {
			if i == nil {
				return ""
			}
			return strings.TrimSpace(fmt.Sprint(i))
		}
		return writer
	}
	return os.Stderr
}

func (c *AppConfig) baseLogWriter() io.Writer {
	return baseLogWriter(c.version)
}

// InitDefaultLogger configures zerolog before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath accepts either a config file or the directory holding config.toml.
func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}

	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}

	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveDataDir() {
	switch {
	case c.Config.DataDir != "":
		c.dataDir = c.Config.DataDir
	case c.dataDir != "":
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, appName+".db")
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// GetDownloadDir is where archives land before extraction.
func (c *AppConfig) GetDownloadDir() string {
	if c.Config.DownloadDir != "" {
		return c.Config.DownloadDir
	}
	return filepath.Join(c.dataDir, "downloads")
}

// GetInstallDir is where extracted games are placed.
func (c *AppConfig) GetInstallDir() string {
	if c.Config.InstallDir != "" {
		return c.Config.InstallDir
	}
	return filepath.Join(c.dataDir, "games")
}

func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

const encryptionKeySize = 32

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// GetEncryptionKey derives the 32-byte AES key from the encryption secret.
func (c *AppConfig) GetEncryptionKey() []byte {
	sum := sha256.Sum256([]byte(c.Config.EncryptionSecret))
	return sum[:]
}

// bindOrReadFromFile reads envVar+"_FILE" when set, otherwise binds envVar.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	fileEnv := envVar + "_FILE"
	if filePath := os.Getenv(fileEnv); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + fileEnv)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
