// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
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
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/strikarr/internal/domain"
	"github.com/autobrr/strikarr/internal/services/notifications"
	"github.com/autobrr/strikarr/pkg/debounce"
)

var envPrefix = "STRIKARR__"

const (
	databaseFileName = "strikarr.db"
	reloadDebounce   = 500 * time.Millisecond
)

type AppConfig struct {
	viper   *viper.Viper
	dataDir string
	version string

	mu     sync.RWMutex
	config *domain.Config

	debouncer *debounce.Debouncer

	listenersMu sync.RWMutex
	listeners   []func(domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	cfg, err := c.unmarshal()
	if err != nil {
		return nil, err
	}
	if err := validateNotifications(cfg); err != nil {
		return nil, err
	}
	c.config = cfg

	c.resolveDataDir()

	return c, nil
}

func (c *AppConfig) defaults() {
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("dataDir", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9075)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("general.searchEnabled", true)
	c.viper.SetDefault("general.searchDelay", 120)
	c.viper.SetDefault("general.dryRun", false)
	c.viper.SetDefault("general.httpTimeout", domain.DefaultHTTPTimeout)
	c.viper.SetDefault("general.strikeRetentionHours", domain.DefaultStrikeRetentionHours)
	c.viper.SetDefault("general.eventRetentionDays", domain.DefaultEventRetentionDays)

	c.viper.SetDefault("queueCleaner.enabled", false)
	c.viper.SetDefault("queueCleaner.interval", domain.DefaultQueueCleanerInterval.String())
	c.viper.SetDefault("queueCleaner.instanceConcurrency", domain.DefaultInstanceConcurrency)
	c.viper.SetDefault("queueCleaner.downloadingMetadataMaxStrikes", 0)
	c.viper.SetDefault("queueCleaner.failedImport.maxStrikes", 0)
}

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return errors.Wrap(err, "failed to read config")
			}
			if err := c.writeDefaultConfig(configPath); err != nil {
				return err
			}
			if err := c.viper.ReadInConfig(); err != nil {
				return errors.Wrap(err, "failed to read newly created config")
			}
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return errors.Wrap(err, "failed to read config")
		}
		defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
		if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
			return err
		}
		c.viper.SetConfigFile(defaultConfigPath)
		if err := c.viper.ReadInConfig(); err != nil {
			return errors.Wrap(err, "failed to read newly created config")
		}
	}

	return nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func (c *AppConfig) loadFromEnv() {
	// Explicit bindings only. AutomaticEnv would pick up unrelated variables.
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.viper.BindEnv("dataDir", envPrefix+"DATA_DIR")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.bindOrReadFromFile("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")

	c.viper.BindEnv("general.searchEnabled", envPrefix+"SEARCH_ENABLED")
	c.viper.BindEnv("general.searchDelay", envPrefix+"SEARCH_DELAY")
	c.viper.BindEnv("general.dryRun", envPrefix+"DRY_RUN")
	c.viper.BindEnv("general.httpTimeout", envPrefix+"HTTP_TIMEOUT")
	c.viper.BindEnv("general.strikeRetentionHours", envPrefix+"STRIKE_RETENTION_HOURS")
	c.viper.BindEnv("general.eventRetentionDays", envPrefix+"EVENT_RETENTION_DAYS")

	c.viper.BindEnv("queueCleaner.enabled", envPrefix+"QUEUE_CLEANER_ENABLED")
	c.viper.BindEnv("queueCleaner.interval", envPrefix+"QUEUE_CLEANER_INTERVAL")
	c.viper.BindEnv("queueCleaner.instanceConcurrency", envPrefix+"QUEUE_CLEANER_INSTANCE_CONCURRENCY")
}

// bindOrReadFromFile reads the value from the file named by envVar+"_FILE"
// when that is set, else binds envVar.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	if filePath := os.Getenv(envVar + "_FILE"); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVar + "_FILE")
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}

func (c *AppConfig) unmarshal() (*domain.Config, error) {
	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.Version = c.version

	// Validate normalizes in place. The stored config must carry rule kinds
	// and parsed byte limits even when another field is invalid.
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("Configuration is invalid, queue cleaning paused until fixed")
	}
	return cfg, nil
}

func validateNotifications(cfg *domain.Config) error {
	for i, target := range cfg.Notifications {
		if !target.Enabled {
			continue
		}
		if err := notifications.ValidateURL(target.URL); err != nil {
			return errors.Wrapf(err, "notifications[%d] %q: invalid url", i, target.Name)
		}
		if _, err := notifications.NormalizeEventTypes(target.Events); err != nil {
			return errors.Wrapf(err, "notifications[%d] %q", i, target.Name)
		}
	}
	return nil
}

// Snapshot returns a copy of the current configuration. Callers may keep it
// across reloads.
func (c *AppConfig) Snapshot() domain.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.Clone()
}

// WatchConfig reloads the configuration when the file changes. Bursts of
// filesystem events are coalesced.
func (c *AppConfig) WatchConfig() {
	c.debouncer = debounce.New(reloadDebounce)
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.debouncer.Do(func() {
			log.Info().Msgf("Config file changed: %s", e.Name)
			if err := c.Reload(); err != nil {
				log.Error().Err(err).Msg("Failed to reload configuration")
			}
		})
	})
	c.viper.WatchConfig()
}

// Close stops the reload debouncer.
func (c *AppConfig) Close() {
	if c.debouncer != nil {
		c.debouncer.Stop()
	}
}

// Reload re-reads the config file and applies it. A file that fails to parse
// or names an invalid notification URL leaves the previous configuration in
// place. Rule and instance problems are kept and reported; the queue cleaner
// skips its passes until they are fixed.
func (c *AppConfig) Reload() error {
	if err := c.viper.ReadInConfig(); err != nil {
		return errors.Wrap(err, "failed to read config")
	}

	cfg, err := c.unmarshal()
	if err != nil {
		return err
	}
	if err := validateNotifications(cfg); err != nil {
		return err
	}

	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()

	c.ApplyLogConfig()
	c.notifyListeners()
	return nil
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	for _, listener := range listeners {
		listener(c.Snapshot())
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/strikarr.log"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# Data directory (default: next to config file)
# Database file (strikarr.db) will be created inside this directory
#dataDir = "/var/db/strikarr"

# Prometheus Metrics
# Default: false
#metricsEnabled = false

# Metrics server host
# Default: "127.0.0.1"
#metricsHost = "127.0.0.1"

# Metrics server port
# Default: {{ .metricsPort }}
#metricsPort = {{ .metricsPort }}

# Basic authentication for metrics endpoint (optional)
# Format: "username:bcrypt_hash" or "user1:hash1,user2:hash2"
#metricsBasicAuthUsers = ""

[general]
# Search for a replacement after a download is removed
searchEnabled = true

# Seconds to wait before searching. Values below 60 use the default.
# Default: 120
searchDelay = {{ .searchDelay }}

# Log what would be removed without removing anything
dryRun = false

# Hashes, titles, categories, tags or tracker domains never to touch
ignoredDownloads = []

# Timeout for *arr and download client requests, in seconds
#httpTimeout = {{ .httpTimeout }}

# How long strikes and events are kept
#strikeRetentionHours = {{ .strikeRetentionHours }}
#eventRetentionDays = {{ .eventRetentionDays }}

[queueCleaner]
enabled = false
interval = "{{ .interval }}"

# Number of *arr instances cleaned at the same time
#instanceConcurrency = {{ .instanceConcurrency }}

# Strikes before a torrent stuck on metadata is removed (0 disables)
downloadingMetadataMaxStrikes = 0

[queueCleaner.failedImport]
# Strikes before an item stuck on import is removed (0 disables)
maxStrikes = 0
ignorePrivate = false
deletePrivate = false
ignoredPatterns = []

# Stall rules apply to torrents the client reports as stalled
#[[queueCleaner.stallRules]]
#name = "stalled"
#enabled = true
#maxStrikes = 3
#privacyType = "both"
#minCompletionPercentage = 0
#maxCompletionPercentage = 100
#resetStrikesOnProgress = true
#deletePrivateTorrentsFromClient = false

# Slow rules apply to downloading torrents
#[[queueCleaner.slowRules]]
#name = "slow"
#enabled = true
#maxStrikes = 3
#privacyType = "public"
#maxCompletionPercentage = 100
#minSpeed = "100KB"
#maxTimeHours = 24
#ignoreAboveSize = "50GB"
#resetStrikesOnProgress = true

#[[arrInstances]]
#name = "sonarr"
#type = "sonarr"
#url = "http://localhost:8989"
#apiKey = ""
#enabled = true

#[[downloadClients]]
#name = "qbittorrent"
#type = "qbittorrent"
#host = "http://localhost:8080"
#username = "admin"
#password = ""
#enabled = true

# Notification targets in shoutrrr URL format
#[[notifications]]
#name = "discord"
#url = "discord://token@id"
#events = ["queue_item_deleted", "pass_failed"]
#enabled = true
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create config directory %s", dir)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"logLevel":             c.viper.GetString("logLevel"),
		"logMaxSize":           c.viper.GetInt("logMaxSize"),
		"logMaxBackups":        c.viper.GetInt("logMaxBackups"),
		"metricsPort":          c.viper.GetInt("metricsPort"),
		"searchDelay":          c.viper.GetInt("general.searchDelay"),
		"httpTimeout":          c.viper.GetInt("general.httpTimeout"),
		"strikeRetentionHours": c.viper.GetInt("general.strikeRetentionHours"),
		"eventRetentionDays":   c.viper.GetInt("general.eventRetentionDays"),
		"interval":             c.viper.GetString("queueCleaner.interval"),
		"instanceConcurrency":  c.viper.GetInt("queueCleaner.instanceConcurrency"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return errors.Wrap(err, "failed to parse config template")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create config file")
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// containers mount /config directly
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "strikarr")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "strikarr")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "strikarr")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "strikarr")
	}
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	cfg := c.Snapshot()
	setLogLevel(cfg.LogLevel)

	writer := baseLogWriter(c.version)

	if cfg.LogPath != "" {
		multiWriter, err := setupLogFile(cfg.LogPath, writer, cfg.LogMaxSize, cfg.LogMaxBackups)
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
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
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
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		writer.FormatTimestamp = func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// resolveConfigPath determines the actual config file path from the provided directory or file path
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
	cfg := c.Snapshot()
	switch {
	case cfg.DataDir != "":
		c.dataDir = cfg.DataDir
	case c.viper.ConfigFileUsed() != "":
		c.dataDir = filepath.Dir(c.viper.ConfigFileUsed())
	default:
		c.dataDir = "."
	}
}

// GetDatabasePath returns the path to the database file
func (c *AppConfig) GetDatabasePath() string {
	return filepath.Join(c.dataDir, databaseFileName)
}

func (c *AppConfig) GetDataDir() string {
	return c.dataDir
}

// SetDataDir sets the data directory (used by CLI flags)
func (c *AppConfig) SetDataDir(dir string) {
	c.dataDir = dir
}

// ConfigFile returns the path of the config file in use.
func (c *AppConfig) ConfigFile() string {
	return c.viper.ConfigFileUsed()
}

// WriteDefaultConfig writes a commented default config to path unless a file
// is already there.
func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}
