// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/texloom/texloom/lib/manifest"
)

// clearCacheCmd implements "texloom clear-cache" (§6 clear_cache()): it
// removes every durable cache artifact — blobs, metadata database,
// unpacked engine installs — so the next run starts cold.
func clearCacheCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("clear-cache", flag.ExitOnError)
	configPath := addConfigFlag(fs)

	fs.Usage = func() {
		fmt.Print(`texloom clear-cache - Remove all cached bundles, packages, PDFs, and formats

USAGE
    texloom clear-cache [flags]

FLAGS
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(cfg.Cache.Dir); err != nil {
		return fmt.Errorf("removing %s: %w", cfg.Cache.Dir, err)
	}

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger.Info("clear-cache: removed cache directory", "dir", cfg.Cache.Dir)
	return nil
}

// warmCmd implements "texloom warm": it pre-fetches the bundles every
// engine's required set names (§6 init(config): "warms required
// bundles"), so the first real compile doesn't pay that latency.
func warmCmd(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	configPath := addConfigFlag(fs)

	fs.Usage = func() {
		fmt.Print(`texloom warm - Pre-fetch the bundles an engine always needs

USAGE
    texloom warm [flags]

FLAGS
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	co, err := assemble(ctx, cfg, c, logger)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	var required []string
	for engineName, bundles := range requiredBundlesByEngine(co.manifests.BundleDeps) {
		for _, id := range bundles {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			required = append(required, id)
		}
		logger.Debug("warm: engine required bundles", "engine", engineName, "count", len(bundles))
	}

	for _, id := range required {
		if _, err := co.bundleFetcher.Fetch(ctx, id); err != nil {
			logger.Warn("warm: failed to fetch bundle", "bundle_id", id, "error", err)
			continue
		}
	}

	logger.Info("warm: prefetched required bundles", "count", len(required))
	return nil
}

func requiredBundlesByEngine(deps *manifest.BundleDeps) map[string][]string {
	if deps == nil {
		return nil
	}
	out := make(map[string][]string, len(deps.Engines))
	for name := range deps.Engines {
		out[name] = deps.RequiredFor(name)
	}
	return out
}
