// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/texloom/texloom/lib/cache"
	"github.com/texloom/texloom/lib/engine"
	"github.com/texloom/texloom/lib/fetch"
	"github.com/texloom/texloom/lib/fingerprint"
	"github.com/texloom/texloom/lib/manifest"
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

func TestCompileSucceedsOnFirstAttempt(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	fake := engine.NewFake(engine.Invocation{ExitCode: 0, PDF: []byte("%PDF-1.5")})

	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher("http://unused.invalid", c),
		PackageFetcher: fetch.NewPackageFetcher("http://unused.invalid", c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
	})

	result, err := o.Compile(ctx, "\\documentclass{article}\\begin{document}hi\\end{document}", Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.Success || string(result.PDF) != "%PDF-1.5" {
		t.Fatalf("got %+v", result)
	}
	if result.Stats.Attempts != 1 {
		t.Fatalf("got %d attempts, want 1", result.Stats.Attempts)
	}
}

func TestCompileUsesPDFCacheOnSecondCall(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	fake := engine.NewFake(engine.Invocation{ExitCode: 0, PDF: []byte("%PDF-cached")})
	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher("http://unused.invalid", c),
		PackageFetcher: fetch.NewPackageFetcher("http://unused.invalid", c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
	})

	source := "\\documentclass{article}\\begin{document}hi\\end{document}"
	if _, err := o.Compile(ctx, source, Options{UseCache: true}); err != nil {
		t.Fatalf("first Compile: %v", err)
	}

	result, err := o.Compile(ctx, source, Options{UseCache: true})
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if !result.Cached || string(result.PDF) != "%PDF-cached" {
		t.Fatalf("got %+v", result)
	}
	if fake.Calls() != 1 {
		t.Fatalf("engine invoked %d times, want 1 (second call should hit cache)", fake.Calls())
	}
}

func TestCompileRecoversFromMissingPackageViaRemoteFetch(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/texlive/widgets":
			w.WriteHeader(http.StatusNotFound)
		case "/api/fetch/widgets":
			json.NewEncoder(w).Encode(map[string]any{
				"files": map[string]any{
					"texmf-dist/tex/latex/widgets/widgets.sty": map[string]string{
						"content":  "widgets-sty-content",
						"encoding": "utf8",
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fake := engine.NewFake(
		engine.Invocation{ExitCode: 1, Log: []byte("! LaTeX Error: File `widgets.sty' not found.")},
		engine.Invocation{ExitCode: 0, PDF: []byte("%PDF-ok")},
	)

	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher(srv.URL, c),
		PackageFetcher: fetch.NewPackageFetcher(srv.URL, c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
	})

	result, err := o.Compile(ctx, "\\documentclass{article}\\usepackage{widgets}\\begin{document}hi\\end{document}", Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.Success || string(result.PDF) != "%PDF-ok" {
		t.Fatalf("got %+v", result)
	}
	if result.Stats.Attempts != 2 {
		t.Fatalf("got %d attempts, want 2", result.Stats.Attempts)
	}
	if len(result.Stats.FetchedPackages) != 1 || result.Stats.FetchedPackages[0] != "widgets" {
		t.Fatalf("got fetched packages %v", result.Stats.FetchedPackages)
	}
}

func TestCompileRecoversFromMissingPackageViaBundle(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extra-fonts.data.gz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("font-bundle-body"))
	}))
	defer srv.Close()

	fake := engine.NewFake(
		engine.Invocation{ExitCode: 1, Log: []byte("! Font TU/fancy(0) at 10pt not found: fancyfont")},
		engine.Invocation{ExitCode: 0, PDF: []byte("%PDF-ok")},
	)

	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher(srv.URL, c),
		PackageFetcher: fetch.NewPackageFetcher(srv.URL, c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
		PackageMap:     manifest.PackageMap{"fancyfont": "extra-fonts"},
	})

	result, err := o.Compile(ctx, "\\documentclass{article}\\begin{document}hi\\end{document}", Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if len(result.Stats.FetchedBundles) != 1 || result.Stats.FetchedBundles[0] != "extra-fonts" {
		t.Fatalf("got fetched bundles %v", result.Stats.FetchedBundles)
	}
}

func TestCompileGivesUpAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	var script []engine.Invocation
	for i := 0; i < MaxRetries; i++ {
		script = append(script, engine.Invocation{ExitCode: 1, Log: []byte("total garbage, nothing recognisable")})
	}
	fake := engine.NewFake(script...)

	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher("http://unused.invalid", c),
		PackageFetcher: fetch.NewPackageFetcher("http://unused.invalid", c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
	})

	_, err := o.Compile(ctx, "\\documentclass{article}\\begin{document}hi\\end{document}", Options{})
	if err != ErrNoProgress {
		t.Fatalf("got err %v, want ErrNoProgress (diagnosis should find nothing on the very first failure)", err)
	}
}

func TestCompileMountsCachedFormatAndTruncatesSource(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)
	c.PutEngineImage(ctx, []byte("fake-engine-image"))

	preamble := "\\documentclass{article}\n"
	fmtBytes := []byte("dumped-format-state")

	fake := engine.NewFake(engine.Invocation{ExitCode: 0, PDF: []byte("%PDF-ok")})
	o := New(Config{
		Cache:          c,
		BundleFetcher:  fetch.NewBundleFetcher("http://unused.invalid", c),
		PackageFetcher: fetch.NewPackageFetcher("http://unused.invalid", c),
		Loader:         &engine.FakeLoader{Engine: fake},
		Registry:       manifest.Registry{},
	})

	preambleHash := fingerprint.Preamble(preamble).String()
	c.PutFormat(ctx, preambleHash, "pdflatex", fmtBytes)

	source := preamble + "\\begin{document}hi\\end{document}"
	result, err := o.Compile(ctx, source, Options{Engine: "pdflatex"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !result.Success {
		t.Fatalf("got %+v", result)
	}
	if !result.Stats.UsedCachedFormat {
		t.Fatalf("expected UsedCachedFormat to be true")
	}
	argv := fake.LastArgv()
	found := false
	for _, a := range argv {
		if a == "--fmt=/custom.fmt" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("got argv %v, want --fmt=/custom.fmt present", argv)
	}
}
