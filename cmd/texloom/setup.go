// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/config"
	"github.com/texloom/texloom/lib/engine"
	"github.com/texloom/texloom/lib/fetch"
	"github.com/texloom/texloom/lib/orchestrator"
)

// addConfigFlag registers the --config flag every subcommand accepts as
// an override for TEXLOOM_CONFIG.
func addConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "Path to texloom.yaml (overrides TEXLOOM_CONFIG)")
}

// loadConfig loads configuration from configPath if given, else from
// TEXLOOM_CONFIG (§4.8: no implicit fallback path).
func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openCache opens the persistent cache described by cfg.Cache.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Cache, error) {
	return cache.Open(ctx, cache.Config{
		BlobDir:          cfg.Cache.Dir,
		MetadataDBPath:   cfg.Cache.MetadataDBPath,
		PoolSize:         cfg.Cache.PoolSize,
		PDFMemoryEntries: cfg.Cache.PDFMemoryEntries,
		Logger:           logger,
	})
}

// collaborators holds every piece §6's init(config) assembles: the
// global manifests, the bundle/package fetchers, and the engine loader.
// compile and generate-format both build one of these before doing
// anything else.
type collaborators struct {
	manifests      *manifests
	bundleFetcher  *fetch.BundleFetcher
	packageFetcher *fetch.PackageFetcher
	loader         engine.Loader
}

// assemble implements §6's init(config): it preloads the global
// manifests and makes sure the compiled engine image is cached, then
// constructs the fetchers and loader every subcommand needs.
func assemble(ctx context.Context, cfg *config.Config, c *cache.Cache, logger *slog.Logger) (*collaborators, error) {
	m, err := loadManifests(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("loading manifests: %w", err)
	}

	if err := ensureEngineImage(ctx, cfg, c, logger); err != nil {
		return nil, fmt.Errorf("loading engine image: %w", err)
	}

	return &collaborators{
		manifests:      m,
		bundleFetcher:  fetch.NewBundleFetcher(cfg.Sources.BundlesURL, c),
		packageFetcher: fetch.NewPackageFetcher(cfg.Sources.CTANProxyURL, c),
		loader:         &engine.ProcessLoader{CacheDir: filepath.Join(cfg.Cache.Dir, "engine")},
	}, nil
}

// buildOrchestrator wires C1-C4 and C8 together into an Orchestrator.
func buildOrchestrator(ctx context.Context, cfg *config.Config, c *cache.Cache, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	co, err := assemble(ctx, cfg, c, logger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Config{
		Cache:                        c,
		BundleFetcher:                co.bundleFetcher,
		PackageFetcher:               co.packageFetcher,
		Loader:                       co.loader,
		Registry:                    co.manifests.Registry,
		PackageMap:                   co.manifests.PackageMap,
		BundleDeps:                   co.manifests.BundleDeps,
		PackageDeps:                  co.manifests.PackageDeps,
		Global:                       co.manifests.Global,
		DisableRemotePackageFallback: !cfg.Features.EnableCTAN,
		DisableLazyFS:                !cfg.Features.EnableLazyFS,
		Logger:                       logger,
	}), nil
}
