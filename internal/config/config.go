// Package config loads fkv settings from JSONC files and command-line
// overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/fasterkv/internal/region"
	"github.com/calvinalkan/fasterkv/pkg/store"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
)

// Config holds all configuration options.
type Config struct {
	RegionSize   int    `json:"region_size,omitempty"`   //nolint:tagliatelle // snake_case for config file
	IndexBuckets int    `json:"index_buckets,omitempty"` //nolint:tagliatelle // snake_case for config file
	LogLevel     string `json:"log_level,omitempty"`     //nolint:tagliatelle // snake_case for config file
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global   string // Path to global config if loaded, empty otherwise
	Explicit string // Path to --config file if loaded, empty otherwise
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		RegionSize:   store.DefaultRegionSize,
		IndexBuckets: store.DefaultIndexBuckets,
		LogLevel:     "info",
	}
}

// GlobalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/fkv/config.json if set, otherwise
// $HOME/.config/fkv/config.json. Only env is consulted, never the process
// environment. Returns empty string if neither variable is set.
func GlobalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "fkv", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "fkv", "config.json")
	}

	return ""
}

// Load builds the configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (if it exists)
// 3. Explicit config file via configPath (if non-empty, must exist)
// 4. Non-zero fields of overrides.
func Load(configPath string, overrides Config, env map[string]string) (Config, Sources, error) {
	cfg := Default()

	var sources Sources

	if globalPath := GlobalPath(env); globalPath != "" {
		globalCfg, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, Sources{}, err
		}

		if loaded {
			sources.Global = globalPath
			cfg = merge(cfg, globalCfg)
		}
	}

	if configPath != "" {
		fileCfg, _, err := loadFile(configPath, true)
		if err != nil {
			return Config{}, Sources{}, err
		}

		sources.Explicit = configPath
		cfg = merge(cfg, fileCfg)
	}

	cfg = merge(cfg, overrides)

	err := cfg.Validate()
	if err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

// loadFile loads a config file. If mustExist is false, a missing file
// returns a zero config and loaded=false.
func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) {
			if mustExist {
				return Config{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
			}

			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, true, nil
}

// Parse decodes a JSONC config document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrConfigInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var cfg Config

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", ErrConfigInvalid, err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.RegionSize != 0 {
		base.RegionSize = overlay.RegionSize
	}

	if overlay.IndexBuckets != 0 {
		base.IndexBuckets = overlay.IndexBuckets
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	return base
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.RegionSize < region.MinSize {
		return fmt.Errorf("%w: region_size %d is below %d", ErrConfigInvalid, c.RegionSize, region.MinSize)
	}

	if c.IndexBuckets < 1 || bits.OnesCount(uint(c.IndexBuckets)) != 1 {
		return fmt.Errorf("%w: index_buckets %d must be a positive power of two", ErrConfigInvalid, c.IndexBuckets)
	}

	_, err := c.Level()
	if err != nil {
		return err
	}

	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error", with optional
// offsets like "info+2").
func (c Config) Level() (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return 0, fmt.Errorf("%w: log_level %q: %w", ErrConfigInvalid, c.LogLevel, err)
	}

	return level, nil
}

// StoreOptions converts the config into options for [store.Open].
func (c Config) StoreOptions(logger *slog.Logger) store.Options {
	return store.Options{
		RegionSize:   c.RegionSize,
		IndexBuckets: c.IndexBuckets,
		Logger:       logger,
	}
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
