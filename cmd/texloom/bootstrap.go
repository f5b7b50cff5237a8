// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/config"
	"github.com/texloom/texloom/lib/fetch"
	"github.com/texloom/texloom/lib/manifest"
)

// manifests bundles the global manifests §6 lists under "Global
// manifests" — everything the resolver and orchestrator need besides the
// bundle bodies themselves.
type manifests struct {
	Registry    manifest.Registry
	PackageMap  manifest.PackageMap
	BundleDeps  *manifest.BundleDeps
	PackageDeps manifest.PackageDeps // nil if package-deps.json is absent
	Global      manifest.FileManifest
}

// loadManifests implements the manifest-preloading half of §6's
// init(config): it fetches registry.json, package-map.json,
// bundle-deps.json, file-manifest.json (required) and package-deps.json
// (optional) from cfg.Sources.BundlesURL.
func loadManifests(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*manifests, error) {
	client := fetch.NewHTTPClient()
	base := cfg.Sources.BundlesURL

	registryData, err := fetchManifestFile(ctx, client, base, "registry.json")
	if err != nil {
		return nil, err
	}
	registry, err := manifest.ParseRegistry(registryData)
	if err != nil {
		return nil, err
	}

	packageMapData, err := fetchManifestFile(ctx, client, base, "package-map.json")
	if err != nil {
		return nil, err
	}
	packageMap, err := manifest.ParsePackageMap(packageMapData)
	if err != nil {
		return nil, err
	}

	bundleDepsData, err := fetchManifestFile(ctx, client, base, "bundle-deps.json")
	if err != nil {
		return nil, err
	}
	bundleDeps, err := manifest.ParseBundleDeps(bundleDepsData)
	if err != nil {
		return nil, err
	}

	globalData, err := fetchManifestFile(ctx, client, base, "file-manifest.json")
	if err != nil {
		return nil, err
	}
	global, err := manifest.ParseFileManifest(globalData)
	if err != nil {
		return nil, err
	}

	var packageDeps manifest.PackageDeps
	if data, err := fetchManifestFile(ctx, client, base, "package-deps.json"); err == nil {
		packageDeps, err = manifest.ParsePackageDeps(data)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Debug("bootstrap: package-deps.json not available, proceeding without it", "error", err)
	}

	return &manifests{
		Registry:    registry,
		PackageMap:  packageMap,
		BundleDeps:  bundleDeps,
		PackageDeps: packageDeps,
		Global:      global,
	}, nil
}

func fetchManifestFile(ctx context.Context, client *http.Client, base, name string) ([]byte, error) {
	url := base + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: building request for %s: %w", name, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: fetching %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bootstrap: fetching %s: status %d", name, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reading %s: %w", name, err)
	}
	return data, nil
}

// ensureEngineImage implements the other half of init(config): fetching
// the compiled engine image once and caching it under the "engine"
// metadata key, if it isn't already cached.
func ensureEngineImage(ctx context.Context, cfg *config.Config, c *cache.Cache, logger *slog.Logger) error {
	if _, ok, err := c.GetEngineImage(ctx); err != nil {
		return fmt.Errorf("bootstrap: checking engine image cache: %w", err)
	} else if ok {
		return nil
	}

	client := fetch.NewHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Sources.WasmURL, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: building engine image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("bootstrap: fetching engine image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bootstrap: fetching engine image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bootstrap: reading engine image: %w", err)
	}

	c.PutEngineImage(ctx, data)
	logger.Info("bootstrap: cached engine image", "bytes", len(data))
	return nil
}
