// Package config loads application settings for the adb CLI.
//
// Settings are layered, lowest to highest precedence: built-in defaults,
// the optional settings file (<user config dir>/artifactdb-cli/settings.yaml),
// ADB_* environment variables, then runtime overrides (command-line flags).
// Contexts and job ledgers are not settings; they live in the context
// store (pkg/ctxstore).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/3leaps/adbcli/pkg/ctxstore"
	"github.com/3leaps/adbcli/pkg/jobledger"
	"github.com/3leaps/adbcli/pkg/output"
)

// Config is the decoded settings tree.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Job     JobConfig     `mapstructure:"job"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Search  SearchConfig  `mapstructure:"search"`
	Upload  UploadConfig  `mapstructure:"upload"`

	// ConfigFile overrides the context store location.
	ConfigFile string `mapstructure:"config_file"`
}

// LoggingConfig controls CLI diagnostics.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// JobConfig controls job reconciliation defaults.
type JobConfig struct {
	// Prune is the default prune mode for `job check`.
	Prune string `mapstructure:"prune"`

	// Format is the default job check output: human, yaml, json or jsonl.
	Format string `mapstructure:"format"`
}

// HTTPConfig tunes the API client.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
	UserAgent string        `mapstructure:"user_agent"`
}

// SearchConfig tunes `adb search`.
type SearchConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// UploadConfig tunes `adb upload`.
type UploadConfig struct {
	Mode        string        `mapstructure:"mode"`
	Concurrency int           `mapstructure:"concurrency"`
	Retries     int           `mapstructure:"retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// HumanFormat renders job checks for people instead of through a formatter.
const HumanFormat = "human"

// settingsFileName is the optional settings file inside the app directory.
const settingsFileName = "settings.yaml"

// identity names the application for env vars and config paths.
type identity struct {
	BinaryName string
	EnvPrefix  string
	AppDir     string
}

// envSpec maps one environment variable to a settings path.
type envSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *identity
	appConfig   *Config
)

func defaultIdentity() *identity {
	return &identity{BinaryName: "adb", EnvPrefix: "ADB_", AppDir: ctxstore.AppDirName}
}

// Load builds the settings from all layers. Each override map is nested
// like the settings tree and wins over every other layer.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		appIdentity = defaultIdentity()
	}

	v := viper.New()
	applyDefaults(v)

	for _, path := range getUserConfigPaths() {
		if err := mergeSettingsFile(v, path); err != nil {
			return nil, err
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		setFlattened(v, "", o)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the most recently loaded settings, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks enumerated and numeric settings.
func (c *Config) Validate() error {
	if _, err := jobledger.ParsePruneMode(c.Job.Prune); err != nil {
		return fmt.Errorf("job.prune: %w", err)
	}
	if c.Job.Format != HumanFormat {
		if _, err := output.Lookup(c.Job.Format); err != nil {
			return fmt.Errorf("job.format: %w", err)
		}
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http.timeout must not be negative")
	}
	if c.HTTP.Burst < 0 {
		return fmt.Errorf("http.burst must not be negative")
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > 100 {
		return fmt.Errorf("search.page_size must be between 1 and 100, got %d", c.Search.PageSize)
	}
	if c.Upload.Concurrency < 1 {
		return fmt.Errorf("upload.concurrency must be >= 1")
	}
	return nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("job.prune", string(jobledger.DefaultPruneMode))
	v.SetDefault("job.format", HumanFormat)

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.rate_limit", 5.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.user_agent", "")

	v.SetDefault("search.page_size", 50)

	v.SetDefault("upload.mode", "presigned")
	v.SetDefault("upload.concurrency", 4)
	v.SetDefault("upload.retries", 3)
	v.SetDefault("upload.retry_delay", "500ms")

	v.SetDefault("config_file", "")
}

// getUserConfigPaths lists settings files to merge, lowest precedence
// first. Empty until an identity is loaded.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return []string{}
	}
	return []string{filepath.Join(dir, appIdentity.AppDir, settingsFileName)}
}

func mergeSettingsFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open settings %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	v.SetConfigType("yaml")
	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	return nil
}

// getEnvSpecs returns the environment variable mappings. Empty until an
// identity is loaded.
func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}
	p := appIdentity.EnvPrefix
	return []envSpec{
		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "JOB_PRUNE", Path: "job.prune"},
		{Name: p + "JOB_FORMAT", Path: "job.format"},
		{Name: p + "HTTP_TIMEOUT", Path: "http.timeout"},
		{Name: p + "HTTP_RATE_LIMIT", Path: "http.rate_limit"},
		{Name: p + "HTTP_BURST", Path: "http.burst"},
		{Name: p + "USER_AGENT", Path: "http.user_agent"},
		{Name: p + "SEARCH_PAGE_SIZE", Path: "search.page_size"},
		{Name: p + "UPLOAD_MODE", Path: "upload.mode"},
		{Name: p + "UPLOAD_CONCURRENCY", Path: "upload.concurrency"},
		{Name: p + "UPLOAD_RETRIES", Path: "upload.retries"},
		{Name: p + "CONFIG_FILE", Path: "config_file"},
	}
}

func setFlattened(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setFlattened(v, key, nested)
			continue
		}
		v.Set(strings.ToLower(key), val)
	}
}
