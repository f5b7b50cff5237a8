// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/config"
)

func openTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.Open(context.Background(), cache.Config{
		BlobDir:        filepath.Join(dir, "blobs"),
		MetadataDBPath: filepath.Join(dir, "meta.db"),
		PoolSize:       1,
	})
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testManifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/registry.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"core"}]`))
	})
	mux.HandleFunc("/package-map.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"amsmath":"core"}`))
	})
	mux.HandleFunc("/bundle-deps.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"engines":{"pdflatex":{"required":["core"]}},"bundles":{}}`))
	})
	mux.HandleFunc("/file-manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"texmf-dist/tex/latex/amsmath/amsmath.sty":{"bundle":"core","start":0,"end":10}}`))
	})
	mux.HandleFunc("/package-deps.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestLoadManifestsAssemblesAllFiles(t *testing.T) {
	srv := testManifestServer(t)
	defer srv.Close()

	cfg := config.Default()
	cfg.Sources.BundlesURL = srv.URL

	logger := slog.New(slog.DiscardHandler)
	m, err := loadManifests(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("loadManifests: %v", err)
	}
	if !m.Registry.Has("core") {
		t.Fatalf("expected registry to contain core")
	}
	if m.PackageMap["amsmath"] != "core" {
		t.Fatalf("got package map %v", m.PackageMap)
	}
	if len(m.BundleDeps.RequiredFor("pdflatex")) != 1 {
		t.Fatalf("got bundle deps %v", m.BundleDeps)
	}
	if _, ok := m.Global["texmf-dist/tex/latex/amsmath/amsmath.sty"]; !ok {
		t.Fatalf("expected global manifest entry")
	}
	if m.PackageDeps != nil {
		t.Fatalf("expected nil package deps when endpoint 404s, got %v", m.PackageDeps)
	}
}

func TestEnsureEngineImageFetchesOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("engine-image-bytes"))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Sources.WasmURL = srv.URL

	c := openTestCache(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	if err := ensureEngineImage(ctx, cfg, c, logger); err != nil {
		t.Fatalf("first ensureEngineImage: %v", err)
	}
	if err := ensureEngineImage(ctx, cfg, c, logger); err != nil {
		t.Fatalf("second ensureEngineImage: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d fetches, want 1 (second call should hit cache)", calls)
	}

	image, ok, err := c.GetEngineImage(ctx)
	if err != nil || !ok {
		t.Fatalf("GetEngineImage: ok=%v err=%v", ok, err)
	}
	if string(image) != "engine-image-bytes" {
		t.Fatalf("got %q", image)
	}
}
