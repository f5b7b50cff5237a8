// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for texloom.
//
// Configuration is loaded from a single file specified by:
//   - TEXLOOM_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for texloom.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Sources configures where bundles, the engine image, and remote packages
	// are fetched from.
	Sources SourcesConfig `yaml:"sources"`

	// Cache configures the persistent cache (C1).
	Cache CacheConfig `yaml:"cache"`

	// Features toggles optional subsystems.
	Features FeaturesConfig `yaml:"features"`

	// EnvironmentOverrides contains per-environment overrides. These are
	// applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Sources  *SourcesConfig  `yaml:"sources,omitempty"`
	Cache    *CacheConfig    `yaml:"cache,omitempty"`
	Features *FeaturesConfig `yaml:"features,omitempty"`
}

// SourcesConfig configures the external endpoints the fabric fetches from (§6).
type SourcesConfig struct {
	// BundlesURL is the base URL for bundle and manifest fetches.
	BundlesURL string `yaml:"bundles_url"`

	// WasmURL is the URL of the compiled engine image.
	WasmURL string `yaml:"wasm_url"`

	// CTANProxyURL is the base URL of the remote package proxy (§4.6, C3).
	CTANProxyURL string `yaml:"ctan_proxy_url"`
}

// CacheConfig configures the persistent cache tiers (§4.1, C1).
type CacheConfig struct {
	// Dir is the root directory for the durable blob store.
	// Default: ${HOME}/.cache/texloom
	Dir string `yaml:"dir"`

	// MetadataDBPath is the SQLite file backing the metadata store.
	// Default: <Dir>/metadata.db
	MetadataDBPath string `yaml:"metadata_db_path"`

	// PoolSize is the number of pooled metadata-store connections.
	// Default: 0 (sqlitepool picks max(NumCPU, 4))
	PoolSize int `yaml:"pool_size"`

	// PDFMemoryEntries bounds the in-memory PDF overlay (§4.1: "LRU-style
	// bound for PDFs at ≥10 entries").
	// Default: 16
	PDFMemoryEntries int `yaml:"pdf_memory_entries"`
}

// FeaturesConfig toggles optional subsystems (§6 recognised config options).
type FeaturesConfig struct {
	// EnableCTAN enables the §4.4 remote package fallback.
	// Default: true
	EnableCTAN bool `yaml:"enable_ctan"`

	// EnableLazyFS enables Lazy + Deferred mounting; when false, all bundle
	// files are mounted Eager.
	// Default: true
	EnableLazyFS bool `yaml:"enable_lazy_fs"`

	// EnableDocCache enables the (document_hash, engine) -> pdf cache.
	// Default: true
	EnableDocCache bool `yaml:"enable_doc_cache"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required in production use.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultCacheDir := filepath.Join(homeDir, ".cache", "texloom")

	return &Config{
		Environment: Development,
		Sources: SourcesConfig{
			BundlesURL:   "https://texlive2.swiftlatex.com/bundles",
			WasmURL:      "https://texlive2.swiftlatex.com/engine.wasm",
			CTANProxyURL: "https://texlive2.swiftlatex.com",
		},
		Cache: CacheConfig{
			Dir:              defaultCacheDir,
			MetadataDBPath:   filepath.Join(defaultCacheDir, "metadata.db"),
			PoolSize:         0,
			PDFMemoryEntries: 16,
		},
		Features: FeaturesConfig{
			EnableCTAN:     true,
			EnableLazyFS:   true,
			EnableDocCache: true,
		},
	}
}

// Load loads configuration from the TEXLOOM_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if TEXLOOM_CONFIG is not set, this
// fails. This ensures deterministic, auditable configuration with no hidden
// overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("TEXLOOM_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TEXLOOM_CONFIG environment variable not set; " +
			"set it to the path of your texloom.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ${HOME} and similar path
// variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production
	// sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Sources != nil {
		if overrides.Sources.BundlesURL != "" {
			c.Sources.BundlesURL = overrides.Sources.BundlesURL
		}
		if overrides.Sources.WasmURL != "" {
			c.Sources.WasmURL = overrides.Sources.WasmURL
		}
		if overrides.Sources.CTANProxyURL != "" {
			c.Sources.CTANProxyURL = overrides.Sources.CTANProxyURL
		}
	}

	if overrides.Cache != nil {
		if overrides.Cache.Dir != "" {
			c.Cache.Dir = overrides.Cache.Dir
		}
		if overrides.Cache.MetadataDBPath != "" {
			c.Cache.MetadataDBPath = overrides.Cache.MetadataDBPath
		}
		if overrides.Cache.PoolSize != 0 {
			c.Cache.PoolSize = overrides.Cache.PoolSize
		}
		if overrides.Cache.PDFMemoryEntries != 0 {
			c.Cache.PDFMemoryEntries = overrides.Cache.PDFMemoryEntries
		}
	}

	if overrides.Features != nil {
		c.Features = *overrides.Features
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TEXLOOM_CACHE_DIR": c.Cache.Dir,
		"HOME":              os.Getenv("HOME"),
	}

	c.Cache.Dir = expandVars(c.Cache.Dir, vars)
	vars["TEXLOOM_CACHE_DIR"] = c.Cache.Dir // Update for dependent paths.

	c.Cache.MetadataDBPath = expandVars(c.Cache.MetadataDBPath, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Cache.Dir == "" {
		errs = append(errs, fmt.Errorf("cache.dir is required"))
	}

	if c.Features.EnableCTAN && c.Sources.CTANProxyURL == "" {
		errs = append(errs, fmt.Errorf("sources.ctan_proxy_url is required when features.enable_ctan is true"))
	}

	if c.Sources.BundlesURL == "" {
		errs = append(errs, fmt.Errorf("sources.bundles_url is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the cache directory if it doesn't exist.
func (c *Config) EnsurePaths() error {
	if c.Cache.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Cache.Dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Cache.Dir, err)
	}
	return nil
}
