// Package config loads the data store settings.
//
// Settings are layered: built-in defaults, then an optional YAML file, then a
// .env file in the data directory, then the process environment. Command line
// flags are applied by the caller last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // Timezones resolve on hosts without zoneinfo.

	"gopkg.in/yaml.v3"

	"github.com/maruel/kitchenstore/internal/models"
)

// FileName is the config file looked up in the data directory.
const FileName = "kitchenstore.yaml"

// Environment variables.
const (
	EnvDataDir              = "DREO_DATA_DIR"
	EnvLockTimeout          = "DREO_DATA_LOCK_TIMEOUT"
	EnvWorkspaceLockTimeout = "DREO_TEAM_LOCK_TIMEOUT"
	EnvLockMode             = "DREO_LOCK_MODE"
	EnvHistory              = "DREO_HISTORY"
	EnvTimezone             = "TZ"
)

// LockMode selects the advisory lock implementation.
type LockMode string

// Lock modes.
const (
	// LockModeSentinel uses exclusive-create sentinel files.
	LockModeSentinel LockMode = "sentinel"
	// LockModeNative uses OS file locks.
	LockModeNative LockMode = "native"
)

// Config holds the settings of a data store.
type Config struct {
	DataDir string `yaml:"data_dir"`
	// LockTimeout bounds every table lock wait. 0 means a single attempt.
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// WorkspaceLockTimeout bounds workspace document lock waits. 0 means a
	// single attempt.
	WorkspaceLockTimeout time.Duration `yaml:"workspace_lock_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	Timezone             string        `yaml:"timezone"`
	LockMode             LockMode      `yaml:"lock_mode"`
	// CacheSize is the number of decoded tables kept per process. Negative
	// disables the cache.
	CacheSize int  `yaml:"cache_size"`
	History   bool `yaml:"history"`
	Watch     bool `yaml:"watch"`
}

// Default returns the default settings.
func Default() *Config {
	return &Config{
		DataDir:              "data",
		LockTimeout:          5 * time.Second,
		WorkspaceLockTimeout: 5 * time.Second,
		PollInterval:         100 * time.Millisecond,
		Timezone:             "America/New_York",
		LockMode:             LockModeSentinel,
		CacheSize:            128,
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return models.MissingField("data_dir")
	}
	if c.LockTimeout < 0 || c.WorkspaceLockTimeout < 0 {
		return models.Validation("lock timeouts must not be negative")
	}
	if c.PollInterval <= 0 {
		return models.Validation("poll_interval must be positive")
	}
	switch c.LockMode {
	case LockModeSentinel, LockModeNative:
	default:
		return models.Validation(fmt.Sprintf("invalid lock_mode %q", c.LockMode)).WithDetail("lock_mode", string(c.LockMode))
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, models.Validation(fmt.Sprintf("invalid timezone %q", c.Timezone)).Wrap(err)
	}
	return loc, nil
}

// Load returns the settings.
//
// path names the YAML file; when empty, FileName in the data directory is used
// if it exists. dataDir, when not empty, overrides every other source of the
// data directory.
func Load(path, dataDir string) (*Config, error) {
	c := Default()
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.DataDir, FileName)
	}
	if err := c.loadYAML(path, explicit); err != nil {
		return nil, err
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	env, err := loadDotEnv(c.DataDir)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return env[key]
	}); err != nil {
		return nil, err
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadYAML(path string, required bool) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the command line or the data dir
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)
	if err := d.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(get func(string) string) error {
	if v := get(EnvDataDir); v != "" {
		c.DataDir = v
	}
	for _, e := range []struct {
		key string
		dst *time.Duration
	}{
		{EnvLockTimeout, &c.LockTimeout},
		{EnvWorkspaceLockTimeout, &c.WorkspaceLockTimeout},
	} {
		v := get(e.key)
		if v == "" {
			continue
		}
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = d
	}
	if v := get(EnvLockMode); v != "" {
		c.LockMode = LockMode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := get(EnvHistory); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHistory, err)
		}
		c.History = b
	}
	if v := get(EnvTimezone); v != "" {
		c.Timezone = strings.TrimPrefix(v, ":")
	}
	return nil
}

// parseSeconds accepts a number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}
