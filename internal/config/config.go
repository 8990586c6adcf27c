// Package config provides configuration management for clusterd.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHTTPPort is the port the serve command listens on.
	DefaultHTTPPort = 37888
	// DefaultClusterThreshold is the average-linkage stopping threshold.
	DefaultClusterThreshold = 0.4
	// DefaultMergeOverlap is the overlap ratio above which a proposed group joins an existing cluster.
	DefaultMergeOverlap = 0.5
	// DefaultMinClusterSize is the smallest group kept by an autocluster run.
	DefaultMinClusterSize = 2
	// DefaultRecentDays is the window of the "recent" scope.
	DefaultRecentDays = 30
	// DefaultIndexClusters is N, the cluster count in an index report.
	DefaultIndexClusters = 5
	// DefaultIndexSessions is M, the unclustered session count in an index report.
	DefaultIndexSessions = 5

	dataDirName      = ".clusterd"
	dbFileName       = "clusterd.db"
	settingsFileName = "settings.json"
	sourcesFileName  = "sources.yaml"
)

// Config holds clusterd configuration.
type Config struct {
	DBPath           string  `json:"CLUSTERD_DB_PATH"`
	DatabaseDSN      string  `json:"CLUSTERD_DATABASE_DSN"`
	SourcesPath      string  `json:"CLUSTERD_SOURCES_PATH"`
	RedisURL         string  `json:"CLUSTERD_REDIS_URL"`
	LogLevel         string  `json:"CLUSTERD_LOG_LEVEL"`
	MaxConns         int     `json:"CLUSTERD_MAX_CONNS"`
	HTTPPort         int     `json:"CLUSTERD_HTTP_PORT"`
	ClusterThreshold float64 `json:"CLUSTERD_CLUSTER_THRESHOLD"`
	MergeOverlap     float64 `json:"CLUSTERD_MERGE_OVERLAP"`
	MinClusterSize   int     `json:"CLUSTERD_MIN_CLUSTER_SIZE"`
	RecentDays       int     `json:"CLUSTERD_RECENT_DAYS"`
	IndexClusters    int     `json:"CLUSTERD_INDEX_CLUSTERS"`
	IndexSessions    int     `json:"CLUSTERD_INDEX_SESSIONS"`
	ScheduleMinutes  int     `json:"CLUSTERD_SCHEDULE_MINUTES"`
}

var (
	global     *Config
	globalOnce sync.Once
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DBPath:           DBPath(),
		SourcesPath:      SourcesPath(),
		LogLevel:         "info",
		MaxConns:         4,
		HTTPPort:         DefaultHTTPPort,
		ClusterThreshold: DefaultClusterThreshold,
		MergeOverlap:     DefaultMergeOverlap,
		MinClusterSize:   DefaultMinClusterSize,
		RecentDays:       DefaultRecentDays,
		IndexClusters:    DefaultIndexClusters,
		IndexSessions:    DefaultIndexSessions,
	}
}

// Get returns the process-wide configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			cfg = Default()
		}
		global = cfg
	})
	return global
}

// DataDir returns the data directory path.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, dataDirName)
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFileName)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFileName)
}

// SourcesPath returns the default source registry path.
func SourcesPath() string {
	return filepath.Join(DataDir(), sourcesFileName)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(map[string]any{
		"CLUSTERD_CLUSTER_THRESHOLD": DefaultClusterThreshold,
		"CLUSTERD_MERGE_OVERLAP":     DefaultMergeOverlap,
		"CLUSTERD_INDEX_CLUSTERS":    DefaultIndexClusters,
		"CLUSTERD_INDEX_SESSIONS":    DefaultIndexSessions,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and default settings.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads the settings file and applies environment overrides on top of defaults.
// A missing or malformed settings file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	switch {
	case err == nil:
		var fromFile Config
		if jsonErr := json.Unmarshal(data, &fromFile); jsonErr != nil {
			log.Warn().Err(jsonErr).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		} else {
			cfg.merge(&fromFile)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// merge copies every non-zero field of other into c.
func (c *Config) merge(other *Config) {
	if other.DBPath != "" {
		c.DBPath = other.DBPath
	}
	if other.DatabaseDSN != "" {
		c.DatabaseDSN = other.DatabaseDSN
	}
	if other.SourcesPath != "" {
		c.SourcesPath = other.SourcesPath
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.MaxConns != 0 {
		c.MaxConns = other.MaxConns
	}
	if other.HTTPPort != 0 {
		c.HTTPPort = other.HTTPPort
	}
	if other.ClusterThreshold != 0 {
		c.ClusterThreshold = other.ClusterThreshold
	}
	if other.MergeOverlap != 0 {
		c.MergeOverlap = other.MergeOverlap
	}
	if other.MinClusterSize != 0 {
		c.MinClusterSize = other.MinClusterSize
	}
	if other.RecentDays != 0 {
		c.RecentDays = other.RecentDays
	}
	if other.IndexClusters != 0 {
		c.IndexClusters = other.IndexClusters
	}
	if other.IndexSessions != 0 {
		c.IndexSessions = other.IndexSessions
	}
	if other.ScheduleMinutes != 0 {
		c.ScheduleMinutes = other.ScheduleMinutes
	}
}

func (c *Config) applyEnv() {
	envString("CLUSTERD_DB_PATH", &c.DBPath)
	envString("CLUSTERD_DATABASE_DSN", &c.DatabaseDSN)
	envString("CLUSTERD_SOURCES_PATH", &c.SourcesPath)
	envString("CLUSTERD_REDIS_URL", &c.RedisURL)
	envString("CLUSTERD_LOG_LEVEL", &c.LogLevel)
	envInt("CLUSTERD_MAX_CONNS", &c.MaxConns)
	envInt("CLUSTERD_HTTP_PORT", &c.HTTPPort)
	envFloat("CLUSTERD_CLUSTER_THRESHOLD", &c.ClusterThreshold)
	envFloat("CLUSTERD_MERGE_OVERLAP", &c.MergeOverlap)
	envInt("CLUSTERD_MIN_CLUSTER_SIZE", &c.MinClusterSize)
	envInt("CLUSTERD_RECENT_DAYS", &c.RecentDays)
	envInt("CLUSTERD_INDEX_CLUSTERS", &c.IndexClusters)
	envInt("CLUSTERD_INDEX_SESSIONS", &c.IndexSessions)
	envInt("CLUSTERD_SCHEDULE_MINUTES", &c.ScheduleMinutes)
}

// normalize replaces out-of-range values with defaults.
func (c *Config) normalize() {
	if c.ClusterThreshold <= 0 || c.ClusterThreshold > 1 {
		c.ClusterThreshold = DefaultClusterThreshold
	}
	if c.MergeOverlap <= 0 || c.MergeOverlap >= 1 {
		c.MergeOverlap = DefaultMergeOverlap
	}
	if c.MinClusterSize < 2 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	if c.RecentDays <= 0 {
		c.RecentDays = DefaultRecentDays
	}
	if c.IndexClusters <= 0 {
		c.IndexClusters = DefaultIndexClusters
	}
	if c.IndexSessions <= 0 {
		c.IndexSessions = DefaultIndexSessions
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.ScheduleMinutes < 0 {
		c.ScheduleMinutes = 0
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Ignoring invalid integer setting")
		return
	}
	*dst = n
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", v).Msg("Ignoring invalid float setting")
		return
	}
	*dst = f
}
